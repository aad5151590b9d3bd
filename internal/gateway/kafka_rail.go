// internal/gateway/kafka_rail.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payout-ledger/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds the producer for bank transfer instructions.
func NewKafkaWriter(brokers []string, topic string, writeTimeout time.Duration, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), zap.String("component", "kafka_writer"))
		}),
	}
}

// KafkaBankRail hands transfer instructions to the bank connector over Kafka.
// The movement id is the message key and the external reference, so the
// connector can deduplicate redeliveries.
type KafkaBankRail struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewKafkaBankRail(writer MessageWriter, logger *zap.Logger) *KafkaBankRail {
	return &KafkaBankRail{writer: writer, logger: logger}
}

func (r *KafkaBankRail) InitiateTransfer(ctx context.Context, instr domain.TransferInstruction) (string, error) {
	body, err := json.Marshal(instr)
	if err != nil {
		return "", fmt.Errorf("KafkaBankRail.InitiateTransfer: failed to encode instruction: %w", err)
	}
	ref := instr.MovementID.String()
	msg := kafka.Message{
		Key:   []byte(ref),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("bank_transfer.requested")},
		},
		Time: time.Now().UTC(),
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("KafkaBankRail.InitiateTransfer: failed to publish movement %s: %w", ref, err)
	}
	r.logger.Info("bank transfer published",
		zap.String("movement_id", ref),
		zap.Int64("amount", instr.AmountCents))
	return ref, nil
}
