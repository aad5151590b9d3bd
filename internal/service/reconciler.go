// internal/service/reconciler.go
package service

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/metrics"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"
	"payout-ledger/pkg/db"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcilerConfig tunes the outbox reconciler.
type ReconcilerConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	// Lease keeps a claimed movement out of other workers' batches while the rail is called.
	Lease time.Duration
}

// MovementReconciler advances bank-transfer outbox rows.
type MovementReconciler interface {
	// ProcessBatch hands due pending movements to the bank rail and returns how many were submitted.
	ProcessBatch(ctx context.Context) (int, error)
	MarkSettled(ctx context.Context, movementID uuid.UUID) (*domain.MoneyMovement, error)
	MarkRejected(ctx context.Context, movementID uuid.UUID, reason string) (*domain.MoneyMovement, error)
}

type movementReconciler struct {
	txRunner
	ledger       LedgerService
	movementRepo repository.MovementRepository
	walletRepo   repository.WalletRepository
	rail         BankRail
	notifier     Notifier
	cfg          ReconcilerConfig
}

// NewMovementReconciler creates a new instance of MovementReconciler. notifier may be nil.
func NewMovementReconciler(
	dbExecutor repository.DBExecutor,
	transactor db.Transactor,
	ledger LedgerService,
	movementRepo repository.MovementRepository,
	walletRepo repository.WalletRepository,
	rail BankRail,
	notifier Notifier,
	cfg ReconcilerConfig,
	retry RetryPolicy,
	logger *zap.Logger,
) MovementReconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return &movementReconciler{
		txRunner:     newTxRunner(dbExecutor, transactor, retry, logger),
		ledger:       ledger,
		movementRepo: movementRepo,
		walletRepo:   walletRepo,
		rail:         rail,
		notifier:     notifier,
		cfg:          cfg,
	}
}

func (r *movementReconciler) ProcessBatch(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	var claimed []domain.MoneyMovement
	err := r.inTx(ctx, nil, "process movements", func(q repository.DBExecutor) error {
		due, err := r.movementRepo.ClaimDueMovements(ctx, q, now, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("process movements: failed to claim due movements: %w", err)
		}
		for i := range due {
			m := &due[i]
			m.Attempts++
			m.NextAttemptAt = now.Add(r.cfg.Lease)
			if err := r.movementRepo.UpdateMovement(ctx, q, m); err != nil {
				return fmt.Errorf("process movements: failed to lease movement %s: %w", m.ID, err)
			}
		}
		claimed = due
		return nil
	})
	if err != nil {
		return 0, err
	}

	submitted := 0
	for i := range claimed {
		m := claimed[i]
		log := r.logger.With(zap.String("movement_id", m.ID.String()), zap.Int("attempt", m.Attempts))

		externalRef, railErr := r.rail.InitiateTransfer(ctx, domain.TransferInstruction{
			MovementID:    m.ID,
			WalletID:      m.WalletID,
			BankAccountID: m.BankAccountID,
			AmountCents:   m.Amount,
			Metadata:      movementMetadata(&m),
		})
		if railErr == nil {
			if err := r.markSubmitted(ctx, m.ID, externalRef); err != nil {
				log.Error("failed to record submitted movement", zap.Error(err))
				continue
			}
			submitted++
			continue
		}

		terminal := util.IsError(railErr, util.ErrTransferRejected) || m.Attempts >= r.cfg.MaxAttempts
		if terminal {
			log.Warn("bank transfer failed permanently", zap.Error(railErr))
			if _, err := r.failAndReverse(ctx, m.ID, railErr.Error(), false); err != nil {
				log.Error("failed to reverse bank transfer", zap.Error(err))
			}
			continue
		}
		log.Warn("bank transfer attempt failed", zap.Error(railErr))
		if err := r.reschedule(ctx, m.ID, m.Attempts, railErr.Error()); err != nil {
			log.Error("failed to reschedule movement", zap.Error(err))
		}
	}
	return submitted, nil
}

func movementMetadata(m *domain.MoneyMovement) map[string]string {
	md := map[string]string{"attempt": fmt.Sprint(m.Attempts)}
	if m.ExecutionID != nil {
		md["execution_id"] = m.ExecutionID.String()
	}
	return md
}

func (r *movementReconciler) markSubmitted(ctx context.Context, id uuid.UUID, externalRef string) error {
	return r.inTxWithRetry(ctx, "submit movement", func(q repository.DBExecutor) error {
		m, err := r.movementRepo.GetMovementForUpdate(ctx, q, id)
		if err != nil {
			return fmt.Errorf("submit movement: failed to lock movement %s: %w", id, err)
		}
		if m.Status != domain.MovementPending {
			return nil
		}
		m.Status = domain.MovementSubmitted
		m.ExternalRef = &externalRef
		m.LastError = nil
		if err := r.movementRepo.UpdateMovement(ctx, q, m); err != nil {
			return fmt.Errorf("submit movement: failed to update movement %s: %w", id, err)
		}
		metrics.MovementTransitions.WithLabelValues(string(domain.MovementSubmitted)).Inc()
		return nil
	})
}

func (r *movementReconciler) reschedule(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return r.inTxWithRetry(ctx, "reschedule movement", func(q repository.DBExecutor) error {
		m, err := r.movementRepo.GetMovementForUpdate(ctx, q, id)
		if err != nil {
			return fmt.Errorf("reschedule movement: failed to lock movement %s: %w", id, err)
		}
		if m.Status != domain.MovementPending {
			return nil
		}
		shift := attempts - 1
		if shift > 16 {
			shift = 16
		}
		m.NextAttemptAt = time.Now().UTC().Add(r.cfg.BaseDelay * time.Duration(1<<shift))
		m.LastError = &lastErr
		return r.movementRepo.UpdateMovement(ctx, q, m)
	})
}

// failAndReverse marks the movement failed and credits the debited amount back
// to the wallet. Only the bank leg is compensated.
func (r *movementReconciler) failAndReverse(ctx context.Context, id uuid.UUID, reason string, fromCallback bool) (*domain.MoneyMovement, error) {
	var (
		out      *domain.MoneyMovement
		reversed bool
	)
	err := r.inTxWithRetry(ctx, "reverse movement", func(q repository.DBExecutor) error {
		reversed = false
		m, err := r.movementRepo.GetMovementForUpdate(ctx, q, id)
		if err != nil {
			return fmt.Errorf("reverse movement: failed to lock movement %s: %w", id, err)
		}
		switch m.Status {
		case domain.MovementFailed:
			out = m
			return nil
		case domain.MovementSettled:
			return fmt.Errorf("reverse movement: movement %s already settled: %w", id, util.ErrInvalidState)
		case domain.MovementSubmitted:
			if !fromCallback {
				out = m
				return nil
			}
		}

		_, err = r.ledger.PostInTx(ctx, q, Posting{
			WalletID:     m.WalletID,
			Type:         domain.TxTypeBankTransferReversal,
			Reference:    domain.Reference{Type: domain.RefTypeMovement, ID: m.ID.String()},
			Description:  "Bank transfer returned",
			Moves:        CreditMove(m.Amount),
			Compensating: true,
		})
		if err != nil {
			return err
		}
		m.Status = domain.MovementFailed
		m.LastError = &reason
		if err := r.movementRepo.UpdateMovement(ctx, q, m); err != nil {
			return fmt.Errorf("reverse movement: failed to update movement %s: %w", id, err)
		}
		out = m
		reversed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reversed {
		metrics.MovementTransitions.WithLabelValues(string(domain.MovementFailed)).Inc()
		r.logger.Info("bank transfer reversed", zap.String("movement_id", id.String()), zap.Int64("amount", out.Amount))
		r.notifyReturned(ctx, out)
	}
	return out, nil
}

func (r *movementReconciler) notifyReturned(ctx context.Context, m *domain.MoneyMovement) {
	if r.notifier == nil {
		return
	}
	wallet, err := r.walletRepo.GetWalletByID(ctx, r.db, m.WalletID)
	if err != nil {
		r.logger.Warn("failed to load wallet for return notification", zap.Error(err))
		return
	}
	n := domain.Notification{
		UserID: wallet.UserID,
		Title:  "Bank transfer returned",
		Body:   fmt.Sprintf("Your bank transfer of %s could not be completed and was returned to your wallet.", formatCents(m.Amount)),
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn("failed to send return notification", zap.Error(err))
	}
}

// MarkSettled records the rail's confirmation for a submitted movement.
func (r *movementReconciler) MarkSettled(ctx context.Context, movementID uuid.UUID) (*domain.MoneyMovement, error) {
	var out *domain.MoneyMovement
	err := r.inTxWithRetry(ctx, "settle movement", func(q repository.DBExecutor) error {
		m, err := r.movementRepo.GetMovementForUpdate(ctx, q, movementID)
		if err != nil {
			return fmt.Errorf("settle movement: failed to lock movement %s: %w", movementID, err)
		}
		out = m
		switch m.Status {
		case domain.MovementSettled:
			return nil
		case domain.MovementSubmitted:
		default:
			return fmt.Errorf("settle movement: movement %s is %s: %w", movementID, m.Status, util.ErrInvalidState)
		}
		m.Status = domain.MovementSettled
		if err := r.movementRepo.UpdateMovement(ctx, q, m); err != nil {
			return fmt.Errorf("settle movement: failed to update movement %s: %w", movementID, err)
		}
		metrics.MovementTransitions.WithLabelValues(string(domain.MovementSettled)).Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRejected records a rail rejection and compensates the wallet debit.
func (r *movementReconciler) MarkRejected(ctx context.Context, movementID uuid.UUID, reason string) (*domain.MoneyMovement, error) {
	if reason == "" {
		reason = "rejected by bank rail"
	}
	return r.failAndReverse(ctx, movementID, reason, true)
}
