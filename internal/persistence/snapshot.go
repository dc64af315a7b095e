package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wattconnect/internal/core"
	"wattconnect/internal/ledger"
	"wattconnect/internal/state"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot carries everything the core holds in memory: balances, config,
// certifications, listings, sequence counters, the idempotency LRU, and the
// last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of the core's in-memory state at a
// point in time. Balances key by account path; ToCoreState parses them back.
type SnapshotData struct {
	Sequence        int64                                `json:"sequence"`
	StateHash       []byte                               `json:"state_hash"`
	Balances        map[string]int64                     `json:"balances"` // AccountPath -> balance
	Config          state.ConfigSnapshot                 `json:"config"`
	Certifications  map[string]state.CertificationRecord `json:"certifications"`
	Listings        map[string]state.Listing             `json:"listings"`
	SequenceState   map[string]int64                     `json:"sequence_state"` // partition -> next expected seq
	LastBlockHeight int64                                `json:"last_block_height"`
	IdempotencyKeys []string                             `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time                            `json:"created_at"`
}

// FromCoreState converts the core's snapshot into its serializable form.
func FromCoreState(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]int64, len(snap.Balances))
	for key, balance := range snap.Balances {
		balances[key.AccountPath()] = balance
	}

	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Balances:        balances,
		Config:          snap.Config,
		Certifications:  snap.Certifications,
		Listings:        snap.Listings,
		SequenceState:   snap.SequenceState,
		LastBlockHeight: snap.LastBlockHeight,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// ToCoreState converts back for restoring the core on warm restart.
func (d *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	balances := make(map[ledger.AccountKey]int64, len(d.Balances))
	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot balance: %w", err)
		}
		balances[key] = balance
	}

	var stateHash [32]byte
	if len(d.StateHash) != len(stateHash) {
		return nil, fmt.Errorf("snapshot state hash: got %d bytes, want %d", len(d.StateHash), len(stateHash))
	}
	copy(stateHash[:], d.StateHash)

	return &core.SnapshotState{
		Sequence:        d.Sequence,
		StateHash:       stateHash,
		Balances:        balances,
		Config:          d.Config,
		Certifications:  d.Certifications,
		Listings:        d.Listings,
		SequenceState:   d.SequenceState,
		LastBlockHeight: d.LastBlockHeight,
		IdempotencyKeys: d.IdempotencyKeys,
	}, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and on graceful shutdown; they are verified by replaying
// the transaction log from the snapshot sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart: load latest snapshot, then replay transactions from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadTransactionsFrom loads committed transactions from a given sequence
// for replay: warm restart replays from the snapshot, cold restart replays
// the whole log.
func (sm *SnapshotManager) LoadTransactionsFrom(ctx context.Context, fromSequence int64, limit int) ([]TransactionRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, operation, idempotency_key, caller, payload,
		       state_hash, prev_hash, block_height, source_sequence, timestamp
		FROM event_log.transactions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []TransactionRow
	for rows.Next() {
		var t TransactionRow
		if err := rows.Scan(
			&t.Sequence, &t.Operation, &t.IdempotencyKey, &t.Caller, &t.Payload,
			&t.StateHash, &t.PrevHash, &t.BlockHeight, &t.SourceSequence, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}

	return txs, rows.Err()
}

// GetLatestSequence returns the highest sequence in the transaction log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.transactions
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty transaction log
	}
	return seq.Int64, nil
}
