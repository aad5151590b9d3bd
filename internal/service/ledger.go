// internal/service/ledger.go
package service

import (
	"context"
	"fmt"
	"strings"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/metrics"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"
	"payout-ledger/pkg/db"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Move changes one bucket of a wallet by Delta.
type Move struct {
	Bucket    domain.BalanceType
	Delta     int64
	Direction domain.Direction
}

// CreditMove adds amount to main.
func CreditMove(amount int64) []Move {
	return []Move{{Bucket: domain.BalanceMain, Delta: amount, Direction: domain.DirectionCredit}}
}

// DebitMove removes amount from main.
func DebitMove(amount int64) []Move {
	return []Move{{Bucket: domain.BalanceMain, Delta: -amount, Direction: domain.DirectionDebit}}
}

// BucketTransfer moves amount between two buckets of the same wallet.
func BucketTransfer(from, to domain.BalanceType, amount int64) []Move {
	return []Move{
		{Bucket: from, Delta: -amount, Direction: domain.DirectionInternal},
		{Bucket: to, Delta: amount, Direction: domain.DirectionInternal},
	}
}

// Posting is a set of moves on one wallet recorded under one reference.
// A (reference, type) pair is applied at most once.
type Posting struct {
	WalletID    uuid.UUID
	Type        domain.TransactionType
	Reference   domain.Reference
	Description string
	Moves       []Move

	// Compensating postings return money the ledger already took, so they
	// apply to frozen, suspended and closed wallets too.
	Compensating bool
}

// PostingRequest is the input of Credit and Debit.
type PostingRequest struct {
	WalletID      uuid.UUID
	AmountCents   int64
	Type          domain.TransactionType
	ReferenceType string
	ReferenceID   string
	Description   string
}

func (r PostingRequest) validate() error {
	if r.WalletID == uuid.Nil {
		return util.NewValidationError("wallet_id", "is required")
	}
	if r.AmountCents <= 0 {
		return util.NewValidationError("amount_cents", "must be positive")
	}
	if strings.TrimSpace(string(r.Type)) == "" {
		return util.NewValidationError("type", "is required")
	}
	if strings.TrimSpace(r.ReferenceType) == "" || strings.TrimSpace(r.ReferenceID) == "" {
		return util.NewValidationError("reference", "type and id are required")
	}
	return nil
}

// PostingResult carries the wallet after the posting and the rows it wrote.
// Replayed is set when the reference had already been applied; Wallet is then
// the current state and Transactions the original rows.
type PostingResult struct {
	Wallet       *domain.Wallet
	Transactions []domain.WalletTransaction
	Replayed     bool
}

// TransactionID returns the id of the first row of the posting.
func (r *PostingResult) TransactionID() uuid.UUID {
	if r == nil || len(r.Transactions) == 0 {
		return uuid.Nil
	}
	return r.Transactions[0].ID
}

// WalletSummary is the read model behind GetWalletSummary.
type WalletSummary struct {
	Wallet             *domain.Wallet                   `json:"wallet"`
	Available          int64                            `json:"available"`
	Total              int64                            `json:"total"`
	ActiveReservations []domain.ContributionReservation `json:"active_reservations"`
	SavingsGoals       []domain.SavingsGoal             `json:"savings_goals"`
	RecentTransactions []domain.WalletTransaction       `json:"recent_transactions"`
}

const summaryRecentTransactions = 10

// LedgerService owns wallet balances and the transaction log. Every balance
// change goes through it.
type LedgerService interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	EnsureWalletInTx(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (*domain.Wallet, error)
	Credit(ctx context.Context, req PostingRequest) (*PostingResult, error)
	Debit(ctx context.Context, req PostingRequest) (*PostingResult, error)
	Reserve(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error)
	CommitReserved(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error)
	ReleaseReserved(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error)
	Post(ctx context.Context, p Posting) (*PostingResult, error)
	PostInTx(ctx context.Context, q repository.DBExecutor, p Posting) (*PostingResult, error)
	TransferToSavingsGoal(ctx context.Context, goalID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error)
	TransferToSavingsGoalInTx(ctx context.Context, q repository.DBExecutor, goalID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error)
	GetWalletSummary(ctx context.Context, userID uuid.UUID) (*WalletSummary, error)
	GetTransactionHistory(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error)
	SetWalletStatus(ctx context.Context, walletID uuid.UUID, status domain.WalletStatus, reason string) (*domain.Wallet, error)
}

type ledgerService struct {
	txRunner
	walletRepo      repository.WalletRepository
	transactionRepo repository.TransactionRepository
	reservationRepo repository.ReservationRepository
	goalRepo        repository.SavingsGoalRepository
	currency        string
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	dbExecutor repository.DBExecutor,
	transactor db.Transactor,
	walletRepo repository.WalletRepository,
	transactionRepo repository.TransactionRepository,
	reservationRepo repository.ReservationRepository,
	goalRepo repository.SavingsGoalRepository,
	retry RetryPolicy,
	currency string,
	logger *zap.Logger,
) LedgerService {
	if currency == "" {
		currency = "USD"
	}
	return &ledgerService{
		txRunner:        newTxRunner(dbExecutor, transactor, retry, logger),
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		reservationRepo: reservationRepo,
		goalRepo:        goalRepo,
		currency:        currency,
	}
}

// EnsureWallet returns the user's wallet, creating an empty active one if absent.
func (s *ledgerService) EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	if userID == uuid.Nil {
		return nil, util.NewValidationError("user_id", "is required")
	}
	wallet, err := s.walletRepo.GetWalletByUserID(ctx, s.db, userID)
	if err == nil {
		return wallet, nil
	}
	if !util.IsError(err, util.ErrNotFound) {
		return nil, fmt.Errorf("ensure wallet: failed to get wallet for user %s: %w", userID, err)
	}

	err = s.inTxWithRetry(ctx, "ensure wallet", func(q repository.DBExecutor) error {
		w, err := s.EnsureWalletInTx(ctx, q, userID)
		wallet = w
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *ledgerService) EnsureWalletInTx(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetWalletByUserID(ctx, q, userID)
	if err == nil {
		return wallet, nil
	}
	if !util.IsError(err, util.ErrNotFound) {
		return nil, fmt.Errorf("ensure wallet: failed to get wallet for user %s: %w", userID, err)
	}

	wallet = domain.NewWallet(userID, s.currency)
	if err := s.walletRepo.CreateWallet(ctx, q, wallet); err != nil {
		return nil, fmt.Errorf("ensure wallet: failed to create wallet for user %s: %w", userID, err)
	}
	s.logger.Info("wallet created", zap.String("wallet_id", wallet.ID.String()), zap.String("user_id", userID.String()))
	return wallet, nil
}

// Credit adds money to a wallet's main balance.
func (s *ledgerService) Credit(ctx context.Context, req PostingRequest) (*PostingResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.Post(ctx, Posting{
		WalletID:    req.WalletID,
		Type:        req.Type,
		Reference:   domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID},
		Description: req.Description,
		Moves:       CreditMove(req.AmountCents),
	})
}

// Debit removes money from a wallet's main balance.
func (s *ledgerService) Debit(ctx context.Context, req PostingRequest) (*PostingResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.Post(ctx, Posting{
		WalletID:    req.WalletID,
		Type:        req.Type,
		Reference:   domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID},
		Description: req.Description,
		Moves:       DebitMove(req.AmountCents),
	})
}

// Reserve moves amount from main to reserved.
func (s *ledgerService) Reserve(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error) {
	return s.transfer(ctx, walletID, amount, ref, domain.TxTypeContributionReserve, domain.BalanceMain, domain.BalanceReserved)
}

// CommitReserved moves amount from reserved to committed.
func (s *ledgerService) CommitReserved(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error) {
	return s.transfer(ctx, walletID, amount, ref, domain.TxTypeContributionCommit, domain.BalanceReserved, domain.BalanceCommitted)
}

// ReleaseReserved moves amount from reserved back to main.
func (s *ledgerService) ReleaseReserved(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error) {
	return s.transfer(ctx, walletID, amount, ref, domain.TxTypeContributionRelease, domain.BalanceReserved, domain.BalanceMain)
}

func (s *ledgerService) transfer(ctx context.Context, walletID uuid.UUID, amount int64, ref domain.Reference, txType domain.TransactionType, from, to domain.BalanceType) (*PostingResult, error) {
	if amount <= 0 {
		return nil, util.NewValidationError("amount_cents", "must be positive")
	}
	return s.Post(ctx, Posting{
		WalletID:  walletID,
		Type:      txType,
		Reference: ref,
		Moves:     BucketTransfer(from, to, amount),
	})
}

// Post applies p in its own transaction, retrying lost lock races.
func (s *ledgerService) Post(ctx context.Context, p Posting) (*PostingResult, error) {
	var result *PostingResult
	err := s.inTxWithRetry(ctx, "post "+string(p.Type), func(q repository.DBExecutor) error {
		r, err := s.PostInTx(ctx, q, p)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PostInTx applies p inside the caller's transaction. The wallet row is locked
// before the reference lookup so two concurrent replays cannot both apply.
func (s *ledgerService) PostInTx(ctx context.Context, q repository.DBExecutor, p Posting) (*PostingResult, error) {
	op := "post " + string(p.Type)
	if len(p.Moves) == 0 {
		return nil, util.NewValidationError("moves", "posting has no moves")
	}
	if p.Reference.Type == "" || p.Reference.ID == "" {
		return nil, util.NewValidationError("reference", "type and id are required")
	}
	for _, m := range p.Moves {
		if m.Delta == 0 {
			return nil, util.NewValidationError("amount_cents", "must be positive")
		}
	}

	wallet, err := s.walletRepo.GetWalletForUpdate(ctx, q, p.WalletID)
	if err != nil {
		if util.IsError(err, util.ErrNotFound) {
			return nil, fmt.Errorf("%s: wallet %s: %w", op, p.WalletID, util.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("%s: failed to lock wallet %s: %w", op, p.WalletID, err)
	}

	existing, err := s.transactionRepo.FindByReference(ctx, q, p.Reference.Type, p.Reference.ID, p.Type)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to look up reference: %w", op, err)
	}
	if len(existing) > 0 {
		metrics.LedgerPostings.WithLabelValues(string(p.Type), "replayed").Inc()
		s.logger.Debug("posting already applied",
			zap.String("wallet_id", p.WalletID.String()),
			zap.String("reference_type", p.Reference.Type),
			zap.String("reference_id", p.Reference.ID))
		return &PostingResult{Wallet: wallet, Transactions: existing, Replayed: true}, nil
	}

	if !wallet.IsActive() && !p.Compensating {
		metrics.LedgerPostings.WithLabelValues(string(p.Type), "rejected").Inc()
		return nil, fmt.Errorf("%s: wallet %s is %s: %w", op, wallet.ID, wallet.Status, util.ErrWalletNotActive)
	}

	rows := make([]domain.WalletTransaction, 0, len(p.Moves))
	for _, m := range p.Moves {
		before, after, ok := wallet.Apply(m.Bucket, m.Delta)
		if !ok {
			metrics.LedgerPostings.WithLabelValues(string(p.Type), "rejected").Inc()
			s.logger.Warn("insufficient funds",
				zap.String("wallet_id", wallet.ID.String()),
				zap.String("bucket", string(m.Bucket)),
				zap.Int64("balance", before),
				zap.Int64("amount", -m.Delta))
			return nil, fmt.Errorf("%s: %s balance %d cannot cover %d: %w", op, m.Bucket, before, -m.Delta, util.ErrInsufficientFunds)
		}
		amount := m.Delta
		if amount < 0 {
			amount = -amount
		}
		rows = append(rows, *domain.NewWalletTransaction(wallet.ID, p.Type, m.Direction, m.Bucket, amount, before, after, p.Reference, p.Description))
	}

	if err := s.walletRepo.UpdateWalletBalances(ctx, q, wallet); err != nil {
		return nil, fmt.Errorf("%s: failed to update wallet balances: %w", op, err)
	}
	for i := range rows {
		if err := s.transactionRepo.CreateTransaction(ctx, q, &rows[i]); err != nil {
			return nil, fmt.Errorf("%s: failed to create transaction: %w", op, err)
		}
	}

	metrics.LedgerPostings.WithLabelValues(string(p.Type), "applied").Inc()
	return &PostingResult{Wallet: wallet, Transactions: rows}, nil
}

// TransferToSavingsGoal moves amount from the goal owner's main balance into the goal.
func (s *ledgerService) TransferToSavingsGoal(ctx context.Context, goalID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error) {
	var result *PostingResult
	err := s.inTxWithRetry(ctx, "savings transfer", func(q repository.DBExecutor) error {
		r, err := s.TransferToSavingsGoalInTx(ctx, q, goalID, amount, ref)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ledgerService) TransferToSavingsGoalInTx(ctx context.Context, q repository.DBExecutor, goalID uuid.UUID, amount int64, ref domain.Reference) (*PostingResult, error) {
	if amount <= 0 {
		return nil, util.NewValidationError("amount_cents", "must be positive")
	}
	goal, err := s.goalRepo.GetGoalByID(ctx, q, goalID)
	if err != nil {
		return nil, fmt.Errorf("savings transfer: failed to get goal %s: %w", goalID, err)
	}

	result, err := s.PostInTx(ctx, q, Posting{
		WalletID:    goal.WalletID,
		Type:        domain.TxTypeSavingsTransfer,
		Reference:   ref,
		Description: "Transfer to savings goal " + goal.Name,
		Moves:       DebitMove(amount),
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}

	// wallet is locked; lock the goal second.
	goal, err = s.goalRepo.GetGoalForUpdate(ctx, q, goalID)
	if err != nil {
		return nil, fmt.Errorf("savings transfer: failed to lock goal %s: %w", goalID, err)
	}
	if !goal.IsOpen() {
		return nil, fmt.Errorf("savings transfer: goal %s is %s: %w", goalID, goal.Status, util.ErrInvalidState)
	}
	if err := s.goalRepo.UpdateGoalBalance(ctx, q, goalID, goal.CurrentBalance+amount); err != nil {
		return nil, fmt.Errorf("savings transfer: failed to update goal balance: %w", err)
	}
	return result, nil
}

// GetWalletSummary returns the wallet with its reservations, goals and latest activity.
func (s *ledgerService) GetWalletSummary(ctx context.Context, userID uuid.UUID) (*WalletSummary, error) {
	wallet, err := s.walletRepo.GetWalletByUserID(ctx, s.db, userID)
	if err != nil {
		if util.IsError(err, util.ErrNotFound) {
			return nil, util.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet summary: failed to get wallet: %w", err)
	}

	summary := &WalletSummary{
		Wallet:    wallet,
		Available: wallet.Available(),
		Total:     wallet.Total(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.reservationRepo.ListActiveReservations(gctx, s.db, wallet.ID)
		if err != nil {
			return fmt.Errorf("wallet summary: failed to list reservations: %w", err)
		}
		summary.ActiveReservations = res
		return nil
	})
	g.Go(func() error {
		goals, err := s.goalRepo.ListGoalsByUser(gctx, s.db, userID)
		if err != nil {
			return fmt.Errorf("wallet summary: failed to list savings goals: %w", err)
		}
		summary.SavingsGoals = goals
		return nil
	})
	g.Go(func() error {
		txs, err := s.transactionRepo.GetTransactionsByWalletID(gctx, s.db, wallet.ID, summaryRecentTransactions, 0)
		if err != nil {
			return fmt.Errorf("wallet summary: failed to list transactions: %w", err)
		}
		summary.RecentTransactions = txs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

// GetTransactionHistory retrieves a paginated list of transactions for a specific wallet.
func (s *ledgerService) GetTransactionHistory(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	_, err := s.walletRepo.GetWalletByID(ctx, s.db, walletID)
	if err != nil {
		if util.IsError(err, util.ErrNotFound) {
			return nil, 0, util.ErrWalletNotFound
		}
		return nil, 0, fmt.Errorf("failed to check wallet existence: %w", err)
	}

	transactions, err := s.transactionRepo.GetTransactionsByWalletID(ctx, s.db, walletID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}
	total, err := s.transactionRepo.CountTransactionsByWalletID(ctx, s.db, walletID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return transactions, total, nil
}

// SetWalletStatus applies a risk/ops status change. Closed wallets stay closed.
func (s *ledgerService) SetWalletStatus(ctx context.Context, walletID uuid.UUID, status domain.WalletStatus, reason string) (*domain.Wallet, error) {
	if !status.Valid() {
		return nil, util.NewValidationError("status", "is not a known wallet status")
	}
	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		reasonPtr = &reason
	}

	var wallet *domain.Wallet
	err := s.inTxWithRetry(ctx, "set wallet status", func(q repository.DBExecutor) error {
		w, err := s.walletRepo.GetWalletForUpdate(ctx, q, walletID)
		if err != nil {
			if util.IsError(err, util.ErrNotFound) {
				return util.ErrWalletNotFound
			}
			return fmt.Errorf("set wallet status: failed to lock wallet %s: %w", walletID, err)
		}
		if w.Status == domain.WalletStatusClosed && status != domain.WalletStatusClosed {
			return fmt.Errorf("set wallet status: wallet %s is closed: %w", walletID, util.ErrInvalidState)
		}
		if err := s.walletRepo.UpdateWalletStatus(ctx, q, walletID, status, reasonPtr); err != nil {
			return fmt.Errorf("set wallet status: failed to update wallet %s: %w", walletID, err)
		}
		w.Status = status
		w.StatusReason = reasonPtr
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("wallet status changed",
		zap.String("wallet_id", walletID.String()),
		zap.String("status", string(status)))
	return wallet, nil
}
