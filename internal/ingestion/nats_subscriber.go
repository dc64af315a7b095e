package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds submitted
// transactions into the deterministic core via txChan. JetStream is the
// primary high-throughput ingestion surface; each operation has its own
// subject under watt.tx.submitted so consumers scale independently.
type NATSSubscriber struct {
	js        jetstream.JetStream
	txChan    chan<- RawTx
	consumers []jetstream.ConsumeContext
}

// RawTx is the received-but-untyped transaction from NATS, ready for the
// shell to parse into a typed tx.Transaction before sending to the core.
type RawTx struct {
	Subject   string
	Operation string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to ledger operations.
type SubjectConfig struct {
	Subject      string
	Operation    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration: one durable
// consumer per operation, all on the WATT_TX stream.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "watt.tx.submitted.apply-for-certification", Operation: "apply-for-certification", ConsumerName: "ledger-cert-apply", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.certify-producer", Operation: "certify-producer", ConsumerName: "ledger-cert-approve", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.reject-producer", Operation: "reject-producer", ConsumerName: "ledger-cert-reject", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.add-energy-for-sale", Operation: "add-energy-for-sale", ConsumerName: "ledger-list", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.remove-energy-from-sale", Operation: "remove-energy-from-sale", ConsumerName: "ledger-unlist", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.buy-energy-from-user", Operation: "buy-energy-from-user", ConsumerName: "ledger-buy", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.refund-energy", Operation: "refund-energy", ConsumerName: "ledger-refund", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.set-certification-fee", Operation: "set-certification-fee", ConsumerName: "ledger-set-cert-fee", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.set-trading-fee-rate", Operation: "set-trading-fee-rate", ConsumerName: "ledger-set-fee-rate", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.set-max-energy-per-user", Operation: "set-max-energy-per-user", ConsumerName: "ledger-set-max-energy", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.set-energy-reserve-limit", Operation: "set-energy-reserve-limit", ConsumerName: "ledger-set-reserve", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.add-certifier", Operation: "add-certifier", ConsumerName: "ledger-add-certifier", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.remove-certifier", Operation: "remove-certifier", ConsumerName: "ledger-remove-certifier", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.deposit-funds", Operation: "deposit-funds", ConsumerName: "ledger-deposit", StreamName: "WATT_TX"},
		{Subject: "watt.tx.submitted.withdraw-funds", Operation: "withdraw-funds", ConsumerName: "ledger-withdraw", StreamName: "WATT_TX"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, txChan chan<- RawTx) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		txChan: txChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		operation := cfg.Operation
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawTx{
				Subject:   msg.Subject(),
				Operation: operation,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.txChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "WATT_TX",
			Subjects:  []string{"watt.tx.submitted.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
