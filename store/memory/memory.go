// Package memory provides an in-memory RunStore implementation (for testing/dev).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/warp/orderdesk/orderbook"
)

// =============================================================================
// MEMORY RUN STORE - mirrors the sqlite claim/finalize semantics
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	runs map[string]*orderbook.RunRecord
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*orderbook.RunRecord)}
}

// GetRunByDate returns a copy of the record for dateKey, or nil when absent.
func (m *Memory) GetRunByDate(_ context.Context, dateKey string) (*orderbook.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.runs[dateKey]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

// ClaimPending mirrors the sqlite conditional upsert: it refuses the claim
// once the record reached sent status.
func (m *Memory) ClaimPending(_ context.Context, claim orderbook.PendingClaim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempt := claim.AttemptAt
	if rec, ok := m.runs[claim.DateKey]; ok {
		if rec.Status == orderbook.StatusSent {
			return false, nil
		}
		rec.Status = orderbook.StatusPending
		rec.Timezone = claim.Timezone
		rec.TargetHour = claim.TargetHour
		rec.TargetMinute = claim.TargetMinute
		rec.LastAttemptAt = &attempt
		rec.ErrorMessage = ""
		rec.UpdatedAt = attempt
		return true, nil
	}

	m.runs[claim.DateKey] = &orderbook.RunRecord{
		RunDate:       claim.DateKey,
		Status:        orderbook.StatusPending,
		Timezone:      claim.Timezone,
		TargetHour:    claim.TargetHour,
		TargetMinute:  claim.TargetMinute,
		LastAttemptAt: &attempt,
		CreatedAt:     attempt,
		UpdatedAt:     attempt,
	}
	return true, nil
}

// FinalizeRun writes the complete patch onto an existing record.
func (m *Memory) FinalizeRun(_ context.Context, dateKey string, patch orderbook.RunPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.runs[dateKey]
	if !ok {
		return errNoRecord(dateKey)
	}

	rec.Status = patch.Status
	rec.SentAt = patch.SentAt
	rec.RowCount = patch.RowCount
	rec.SequenceNumber = patch.SequenceNumber
	rec.Title = patch.Title
	rec.DateLabel = patch.DateLabel
	rec.SnapshotRows = patch.SnapshotRows
	rec.ErrorMessage = patch.ErrorMessage
	attempt := patch.LastAttemptAt
	rec.LastAttemptAt = &attempt
	rec.UpdatedAt = attempt
	return nil
}

// MaxSequence returns the highest sequence number across all records.
func (m *Memory) MaxSequence(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var max int64
	for _, rec := range m.runs {
		if rec.SequenceNumber > max {
			max = rec.SequenceNumber
		}
	}
	return max, nil
}

// LastSentBefore returns the sent_at of the latest sent run before dateKey.
func (m *Memory) LastSentBefore(_ context.Context, dateKey string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bestDate string
	var bestSent *time.Time
	for date, rec := range m.runs {
		if rec.Status != orderbook.StatusSent || rec.SentAt == nil || date >= dateKey {
			continue
		}
		if date > bestDate {
			bestDate = date
			bestSent = rec.SentAt
		}
	}
	return bestSent, nil
}

// Snapshot returns a copy of all records, keyed by date. Test helper.
func (m *Memory) Snapshot() map[string]orderbook.RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]orderbook.RunRecord, len(m.runs))
	for k, v := range m.runs {
		out[k] = *v
	}
	return out
}

type errNoRecord string

func (e errNoRecord) Error() string { return "no run record exists for " + string(e) }
