package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wattconnect/internal/core"
)

// TxLogWriter writes committed transactions and their journal entries to
// Postgres using multi-row INSERT. Writes are idempotent: replays conflict
// on the primary key and are dropped by ON CONFLICT DO NOTHING.
type TxLogWriter struct {
	db *sql.DB
}

// execer lets writer methods run against either *sql.DB or *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TransactionRow represents a row in event_log.transactions.
type TransactionRow struct {
	Sequence       int64
	Operation      string
	IdempotencyKey string
	Caller         string
	Payload        []byte // JSON-encoded transaction payload
	StateHash      []byte
	PrevHash       []byte
	BlockHeight    int64
	SourceSequence int64
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
	Timestamp     int64
}

func NewTxLogWriter(db *sql.DB) *TxLogWriter {
	return &TxLogWriter{db: db}
}

// RowsFromOutput flattens a core output into its storage rows.
func RowsFromOutput(out core.CoreOutput) (TransactionRow, []JournalRow) {
	env := out.Envelope
	txRow := TransactionRow{
		Sequence:       env.Sequence,
		Operation:      env.TxType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		BlockHeight:    env.BlockHeight,
		SourceSequence: env.SourceSequence,
		Timestamp:      env.Timestamp,
	}

	var journalRows []JournalRow
	if out.Batch != nil {
		journalRows = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			journalRows = append(journalRows, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}

	return txRow, journalRows
}

// WriteTransactionBatch writes transactions to event_log.transactions.
func (w *TxLogWriter) WriteTransactionBatch(ctx context.Context, ex execer, txs []TransactionRow) error {
	if len(txs) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.transactions
		(sequence, operation, idempotency_key, caller, payload, state_hash, prev_hash, block_height, source_sequence, timestamp)
		VALUES `

	values := make([]string, 0, len(txs))
	args := make([]interface{}, 0, len(txs)*10)

	for i, t := range txs {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			t.Sequence, t.Operation, t.IdempotencyKey, t.Caller, t.Payload,
			t.StateHash, t.PrevHash, t.BlockHeight, t.SourceSequence, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes journal entries to event_log.journal.
func (w *TxLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
