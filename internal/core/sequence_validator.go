package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition and the
// monotonicity of block heights.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	lastBlockHeight int64
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale or duplicate
		if isDuplicate {
			// This is expected - already processed
			return nil
		}
		// Out-of-order delivery of NEW transaction
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order transaction: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		// Normal case - advance sequence
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateBlockHeight enforces non-decreasing block heights. Multiple
// transactions may share a height; a lower one means the feed rewound.
func (sv *SequenceValidator) ValidateBlockHeight(height int64) error {
	if height < sv.lastBlockHeight {
		sv.metrics.RecordHeightRegression()
		return fmt.Errorf("block height regression: last=%d, got=%d",
			sv.lastBlockHeight, height)
	}
	sv.lastBlockHeight = height
	return nil
}

// LastBlockHeight returns the highest block height seen so far
func (sv *SequenceValidator) LastBlockHeight() int64 {
	return sv.lastBlockHeight
}

// SetLastBlockHeight initializes the height watermark (used during recovery)
func (sv *SequenceValidator) SetLastBlockHeight(height int64) {
	sv.lastBlockHeight = height
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns the expected sequence for every known
// partition, for snapshot creation.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// RestorePartition reinstalls a partition's expected sequence from a snapshot
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceMetrics struct {
	gaps              map[string]int64 // partition -> gap count
	outOfOrder        map[string]int64 // partition -> out-of-order count
	heightRegressions int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordHeightRegression() {
	m.heightRegressions++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetHeightRegressions() int64 {
	return m.heightRegressions
}
