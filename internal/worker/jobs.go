// internal/worker/jobs.go
package worker

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/service"
)

// Intervals for the standard job set.
type Intervals struct {
	Reconciler       time.Duration
	PayoutRetry      time.Duration
	ReservationSweep time.Duration
}

// StandardJobs returns the movement reconciler, payout retry and reservation
// expiry jobs.
func StandardJobs(
	reconciler service.MovementReconciler,
	payouts service.PayoutService,
	reservations service.ReservationService,
	every Intervals,
	now func() time.Time,
) []Job {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return []Job{
		{
			Name:     "money_movements",
			Interval: every.Reconciler,
			Run:      reconciler.ProcessBatch,
		},
		{
			Name:     "payout_retry",
			Interval: every.PayoutRetry,
			Run: func(ctx context.Context) (int, error) {
				t := now()
				recovered, err := payouts.RecoverStale(ctx, t)
				if err != nil {
					return 0, fmt.Errorf("payout_retry: failed to recover stale executions: %w", err)
				}
				retried, err := payouts.RetryDue(ctx, t)
				if err != nil {
					return recovered, fmt.Errorf("payout_retry: failed to retry due executions: %w", err)
				}
				return recovered + retried, nil
			},
		},
		{
			Name:     "reservation_expiry",
			Interval: every.ReservationSweep,
			Run: func(ctx context.Context) (int, error) {
				return reservations.ExpireStale(ctx, now())
			},
		},
	}
}
