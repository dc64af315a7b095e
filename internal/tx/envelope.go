package tx

import (
	"time"
)

// Envelope wraps every committed transaction in the log. Rejected
// transactions never reach the log; they only produce receipts.
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream (transaction id)
	IdempotencyKey string

	// Transaction type discriminator
	TxType TxType

	// Authenticated caller principal
	Caller string

	// Block height the transaction was anchored at
	BlockHeight int64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded transaction payload
	Payload []byte

	// SHA-256 of state AFTER applying this transaction
	StateHash [32]byte

	// Previous transaction's state hash (chain integrity)
	PrevHash [32]byte
}
