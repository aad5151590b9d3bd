// internal/service/reservation.go
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

// ReservationConfig tunes the reservation manager.
type ReservationConfig struct {
	Horizon     time.Duration // how far ahead a sweep looks for due contributions
	ExpiryGrace time.Duration // how long past its due date a reservation may stay reserved
	BatchSize   int
}

// SweepResult reports what one auto-reservation sweep did.
type SweepResult struct {
	WalletID   uuid.UUID                        `json:"wallet_id"`
	Reserved   []domain.ContributionReservation `json:"reserved"`
	Shortfalls []domain.Shortfall               `json:"shortfalls"`
	Skipped    int                              `json:"skipped"`
}

// ReservationService earmarks wallet funds for upcoming circle contributions.
type ReservationService interface {
	SweepAutoReservations(ctx context.Context, userID uuid.UUID) (*SweepResult, error)
	Reserve(ctx context.Context, walletID, circleID uuid.UUID, cycleNumber int, amount int64, dueDate time.Time) (*domain.ContributionReservation, error)
	Use(ctx context.Context, reservationID uuid.UUID) (*domain.ContributionReservation, error)
	Release(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.ContributionReservation, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type reservationService struct {
	txRunner
	ledger          LedgerService
	walletRepo      repository.WalletRepository
	reservationRepo repository.ReservationRepository
	circleRepo      repository.CircleRepository
	notifier        Notifier
	cfg             ReservationConfig
}

// NewReservationService creates a new instance of ReservationService. notifier may be nil.
func NewReservationService(
	dbExecutor repository.DBExecutor,
	transactor db.Transactor,
	ledger LedgerService,
	walletRepo repository.WalletRepository,
	reservationRepo repository.ReservationRepository,
	circleRepo repository.CircleRepository,
	notifier Notifier,
	cfg ReservationConfig,
	retry RetryPolicy,
	logger *zap.Logger,
) ReservationService {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 14 * 24 * time.Hour
	}
	if cfg.ExpiryGrace < 0 {
		cfg.ExpiryGrace = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &reservationService{
		txRunner:        newTxRunner(dbExecutor, transactor, retry, logger),
		ledger:          ledger,
		walletRepo:      walletRepo,
		reservationRepo: reservationRepo,
		circleRepo:      circleRepo,
		notifier:        notifier,
		cfg:             cfg,
	}
}

// SweepAutoReservations reserves every upcoming contribution of userID that
// falls inside the horizon and is not reserved yet. Contributions main cannot
// cover are reported as shortfalls and leave the wallet untouched. Re-running
// a sweep is safe.
func (s *reservationService) SweepAutoReservations(ctx context.Context, userID uuid.UUID) (*SweepResult, error) {
	wallet, err := s.ledger.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sweep reservations: %w", err)
	}

	now := time.Now().UTC()
	upcoming, err := s.circleRepo.ListUpcomingContributions(ctx, s.db, userID, now, now.Add(s.cfg.Horizon))
	if err != nil {
		return nil, fmt.Errorf("sweep reservations: failed to list upcoming contributions: %w", err)
	}

	result := &SweepResult{
		WalletID:   wallet.ID,
		Reserved:   []domain.ContributionReservation{},
		Shortfalls: []domain.Shortfall{},
	}
	for _, c := range upcoming {
		var (
			created   *domain.ContributionReservation
			shortfall *domain.Shortfall
		)
		err := s.inTxWithRetry(ctx, "sweep reservations", func(q repository.DBExecutor) error {
			created, shortfall = nil, nil

			w, err := s.walletRepo.GetWalletForUpdate(ctx, q, wallet.ID)
			if err != nil {
				return fmt.Errorf("sweep reservations: failed to lock wallet %s: %w", wallet.ID, err)
			}
			_, err = s.reservationRepo.FindReservation(ctx, q, w.ID, c.CircleID, c.CycleNumber)
			if err == nil {
				return nil
			}
			if !util.IsError(err, util.ErrNotFound) {
				return fmt.Errorf("sweep reservations: failed to look up reservation: %w", err)
			}
			if !w.IsActive() {
				return fmt.Errorf("sweep reservations: wallet %s is %s: %w", w.ID, w.Status, util.ErrWalletNotActive)
			}
			if w.MainBalance < c.Amount {
				shortfall = &domain.Shortfall{
					CircleID:    c.CircleID,
					CycleNumber: c.CycleNumber,
					DueDate:     c.DueDate,
					Required:    c.Amount,
					Available:   w.MainBalance,
				}
				return nil
			}

			res, err := s.reserveInTx(ctx, q, w.ID, c.CircleID, c.CycleNumber, c.Amount, c.DueDate)
			created = res
			return err
		})
		if err != nil {
			return nil, err
		}

		switch {
		case created != nil:
			result.Reserved = append(result.Reserved, *created)
		case shortfall != nil:
			metrics.ReservationEvents.WithLabelValues("shortfall").Inc()
			result.Shortfalls = append(result.Shortfalls, *shortfall)
		default:
			result.Skipped++
		}
	}

	if len(result.Shortfalls) > 0 {
		s.notifyShortfall(ctx, userID, result.Shortfalls)
	}
	s.logger.Info("reservation sweep finished",
		zap.String("user_id", userID.String()),
		zap.Int("reserved", len(result.Reserved)),
		zap.Int("shortfalls", len(result.Shortfalls)),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *reservationService) notifyShortfall(ctx context.Context, userID uuid.UUID, shortfalls []domain.Shortfall) {
	if s.notifier == nil {
		return
	}
	var missing int64
	for _, sf := range shortfalls {
		missing += sf.Required - sf.Available
	}
	n := domain.Notification{
		UserID: userID,
		Title:  "Upcoming contribution not covered",
		Body:   fmt.Sprintf("Add %s to your wallet to cover %d upcoming contribution(s).", formatCents(missing), len(shortfalls)),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to send shortfall notification", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Reserve creates a reservation for one contribution and moves its amount from main to reserved.
func (s *reservationService) Reserve(ctx context.Context, walletID, circleID uuid.UUID, cycleNumber int, amount int64, dueDate time.Time) (*domain.ContributionReservation, error) {
	if circleID == uuid.Nil {
		return nil, util.NewValidationError("circle_id", "is required")
	}
	if cycleNumber <= 0 {
		return nil, util.NewValidationError("cycle_number", "must be positive")
	}
	if amount <= 0 {
		return nil, util.NewValidationError("amount_cents", "must be positive")
	}

	var res *domain.ContributionReservation
	err := s.inTxWithRetry(ctx, "reserve contribution", func(q repository.DBExecutor) error {
		if _, err := s.walletRepo.GetWalletForUpdate(ctx, q, walletID); err != nil {
			if util.IsError(err, util.ErrNotFound) {
				return util.ErrWalletNotFound
			}
			return fmt.Errorf("reserve contribution: failed to lock wallet %s: %w", walletID, err)
		}
		_, err := s.reservationRepo.FindReservation(ctx, q, walletID, circleID, cycleNumber)
		if err == nil {
			return fmt.Errorf("reserve contribution: cycle %d of circle %s already reserved: %w", cycleNumber, circleID, util.ErrInvalidState)
		}
		if !util.IsError(err, util.ErrNotFound) {
			return fmt.Errorf("reserve contribution: failed to look up reservation: %w", err)
		}
		r, err := s.reserveInTx(ctx, q, walletID, circleID, cycleNumber, amount, dueDate)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *reservationService) reserveInTx(ctx context.Context, q repository.DBExecutor, walletID, circleID uuid.UUID, cycleNumber int, amount int64, dueDate time.Time) (*domain.ContributionReservation, error) {
	res := domain.NewContributionReservation(walletID, circleID, cycleNumber, amount, dueDate)
	if err := s.reservationRepo.CreateReservation(ctx, q, res); err != nil {
		return nil, fmt.Errorf("reserve contribution: failed to create reservation: %w", err)
	}
	_, err := s.ledger.PostInTx(ctx, q, Posting{
		WalletID:    walletID,
		Type:        domain.TxTypeContributionReserve,
		Reference:   domain.Reference{Type: domain.RefTypeReservation, ID: res.ID.String()},
		Description: fmt.Sprintf("Reserve contribution for cycle %d", cycleNumber),
		Moves:       BucketTransfer(domain.BalanceMain, domain.BalanceReserved, amount),
	})
	if err != nil {
		return nil, err
	}
	metrics.ReservationEvents.WithLabelValues(string(domain.ReservationReserved)).Inc()
	return res, nil
}

// Use commits a reservation at contribution time: reserved moves to committed.
func (s *reservationService) Use(ctx context.Context, reservationID uuid.UUID) (*domain.ContributionReservation, error) {
	return s.transition(ctx, "use reservation", reservationID, domain.ReservationUsed, domain.TxTypeContributionCommit,
		domain.BalanceCommitted, nil)
}

// Release returns an unused reservation to main.
func (s *reservationService) Release(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.ContributionReservation, error) {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	return s.transition(ctx, "release reservation", reservationID, domain.ReservationReleased, domain.TxTypeContributionRelease,
		domain.BalanceMain, reasonPtr)
}

// ExpireStale releases reservations that are still held well after their due
// date and marks them expired. It returns how many were expired.
func (s *reservationService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.ExpiryGrace)
	overdue, err := s.reservationRepo.ListOverdueReservations(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: failed to list overdue reservations: %w", err)
	}

	reason := "contribution due date passed"
	expired := 0
	for _, r := range overdue {
		_, err := s.transition(ctx, "expire reservation", r.ID, domain.ReservationExpired, domain.TxTypeContributionExpire,
			domain.BalanceMain, &reason)
		if err != nil {
			if util.IsError(err, util.ErrInvalidState) {
				continue
			}
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("expired stale reservations", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *reservationService) transition(
	ctx context.Context,
	op string,
	reservationID uuid.UUID,
	to domain.ReservationStatus,
	txType domain.TransactionType,
	target domain.BalanceType,
	reason *string,
) (*domain.ContributionReservation, error) {
	var res *domain.ContributionReservation
	err := s.inTxWithRetry(ctx, op, func(q repository.DBExecutor) error {
		r, err := s.reservationRepo.GetReservationForUpdate(ctx, q, reservationID)
		if err != nil {
			return fmt.Errorf("%s: failed to get reservation %s: %w", op, reservationID, err)
		}
		if !r.IsActive() {
			return fmt.Errorf("%s: reservation %s is %s: %w", op, reservationID, r.Status, util.ErrInvalidState)
		}

		_, err = s.ledger.PostInTx(ctx, q, Posting{
			WalletID:  r.WalletID,
			Type:      txType,
			Reference: domain.Reference{Type: domain.RefTypeReservation, ID: r.ID.String()},
			Moves:     BucketTransfer(domain.BalanceReserved, target, r.Amount),
		})
		if err != nil {
			return err
		}
		if err := s.reservationRepo.UpdateReservationStatus(ctx, q, r.ID, to, reason); err != nil {
			return fmt.Errorf("%s: failed to update reservation %s: %w", op, reservationID, err)
		}
		r.Status = to
		r.Reason = reason
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ReservationEvents.WithLabelValues(string(to)).Inc()
	return res, nil
}
