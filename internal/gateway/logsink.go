// internal/gateway/logsink.go
package gateway

import (
	"context"
	"fmt"

	"payout-ledger/internal/domain"

	"go.uber.org/zap"
)

// LogSink stands in for Redis when it is disabled. Everything is logged and dropped.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, n domain.Notification) error {
	s.logger.Info("notification", zap.String("user_id", n.UserID.String()), zap.String("title", n.Title), zap.String("body", n.Body))
	return nil
}

func (s *LogSink) EnqueueReview(_ context.Context, item domain.OpsReviewItem) error {
	s.logger.Warn("payout flagged for review",
		zap.String("execution_id", item.ExecutionID),
		zap.String("user_id", item.UserID),
		zap.Int("score", item.Score),
		zap.Bool("held", item.Held))
	return nil
}

func (s *LogSink) Publish(_ context.Context, event domain.EngagementEvent) error {
	s.logger.Info("engagement event", zap.String("type", event.Type), zap.String("user_id", event.UserID.String()), zap.Int64("amount", event.AmountCents))
	return nil
}

// LogRail accepts every transfer without moving money. Development only.
type LogRail struct {
	logger *zap.Logger
}

func NewLogRail(logger *zap.Logger) *LogRail {
	return &LogRail{logger: logger}
}

func (r *LogRail) InitiateTransfer(_ context.Context, instr domain.TransferInstruction) (string, error) {
	r.logger.Warn("bank rail disabled, transfer not sent",
		zap.String("movement_id", instr.MovementID.String()),
		zap.String("bank_account_id", instr.BankAccountID),
		zap.Int64("amount", instr.AmountCents))
	return fmt.Sprintf("log-%s", instr.MovementID), nil
}
