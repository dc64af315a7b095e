package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ReceiptPublisher publishes transaction receipts to NATS for submitters and
// downstream consumers. Receipts for accepted transactions are published
// after the transaction is queued for persistence; rejection receipts carry
// the rejection reason and no state hash advance.
// Subjects follow the pattern: watt.ledger.receipts.{operation}
type ReceiptPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan Receipt
}

// Receipt is the structured outcome of a submitted transaction.
type Receipt struct {
	Sequence       int64     `json:"sequence"` // ledger sequence; -1 when rejected
	Operation      string    `json:"operation"`
	IdempotencyKey string    `json:"idempotency_key"`
	Caller         string    `json:"caller"`
	Accepted       bool      `json:"accepted"`
	Error          string    `json:"error,omitempty"`
	StateHash      []byte    `json:"state_hash,omitempty"`
	BlockHeight    int64     `json:"block_height"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewReceiptPublisher(js jetstream.JetStream, inputChan <-chan Receipt) *ReceiptPublisher {
	return &ReceiptPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the receipt publisher loop.
func (rp *ReceiptPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rcpt, ok := <-rp.inputChan:
			if !ok {
				return nil
			}

			if err := rp.publish(ctx, rcpt); err != nil {
				log.Printf("WARN: receipt publish failed key=%s: %v", rcpt.IdempotencyKey, err)
				// Non-fatal: submitters can query the event log directly
			}
		}
	}
}

func (rp *ReceiptPublisher) publish(ctx context.Context, rcpt Receipt) error {
	data, err := json.Marshal(rcpt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	subject := fmt.Sprintf("watt.ledger.receipts.%s", rcpt.Operation)
	_, err = rp.js.Publish(ctx, subject, data)
	return err
}

// EnsureReceiptStream creates the outbound receipt stream.
func EnsureReceiptStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "WATT_LEDGER_RECEIPTS",
		Subjects:  []string{"watt.ledger.receipts.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create receipt stream: %w", err)
	}
	log.Println("INFO: ensured receipt stream WATT_LEDGER_RECEIPTS")
	return nil
}
