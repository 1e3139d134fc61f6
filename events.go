package teller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// TransactionCompleted is emitted after a ledger operation commits.
// Deposits carry only ToAccount, withdrawals only FromAccount,
// transfers both.
type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	FromAccount   string          `json:"from_account,omitempty"`
	ToAccount     string          `json:"to_account,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          TxnKind         `json:"kind"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// EventPublisher notifies downstream consumers of committed
// operations. Publishing is best-effort: the ledger engine logs a
// failure and moves on, it never rolls back a committed operation.
type EventPublisher interface {
	Publish(ctx context.Context, evt TransactionCompleted) error
}

type NopPublisher struct{}

var _ EventPublisher = (*NopPublisher)(nil)

func (NopPublisher) Publish(_ context.Context, _ TransactionCompleted) error { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt TransactionCompleted) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.TransactionID),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
