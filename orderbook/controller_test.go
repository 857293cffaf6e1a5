package orderbook_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/orderdesk/orderbook"
	"github.com/warp/orderdesk/store/memory"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type stubSource struct {
	rows      []orderbook.ReportRow
	err       error
	lastSince *time.Time
	calls     int
}

func (s *stubSource) LoadRows(_ context.Context, since *time.Time) ([]orderbook.ReportRow, error) {
	s.calls++
	s.lastSince = since
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type stubDispatcher struct {
	err  error
	sent []orderbook.CSVEmail
}

func (d *stubDispatcher) SendCSV(_ context.Context, msg orderbook.CSVEmail) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, msg)
	return nil
}

func sampleRows(n int) []orderbook.ReportRow {
	rows := make([]orderbook.ReportRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, orderbook.ReportRow{
			Line:           i + 1,
			InstrumentName: "Acme Corp",
			Ticker:         "ACM",
			ISIN:           "000",
			Side:           "BUY",
			TotalQuantity:  "10",
			OrderType:      "Market",
		})
	}
	return rows
}

type fixture struct {
	store      *memory.Memory
	source     *stubSource
	dispatcher *stubDispatcher
	controller *orderbook.Controller
	clock      *time.Time
}

// newFixture wires a controller against the in-memory store with an 11:59 UTC
// cutoff and a mutable clock.
func newFixture(t *testing.T, rowCount int) *fixture {
	t.Helper()

	store := memory.NewMemory()
	source := &stubSource{rows: sampleRows(rowCount)}
	dispatcher := &stubDispatcher{}
	now := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)

	f := &fixture{store: store, source: source, dispatcher: dispatcher, clock: &now}
	f.controller = orderbook.NewController(store, source, dispatcher, time.UTC, 11, 59, false).
		WithClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) record(t *testing.T, dateKey string) orderbook.RunRecord {
	t.Helper()
	rec, ok := f.store.Snapshot()[dateKey]
	require.True(t, ok, "expected a run record for %s", dateKey)
	return rec
}

// =============================================================================
// TIME GATE
// =============================================================================

func TestRun_BeforeCutoffSkipsWithoutMutation(t *testing.T) {
	f := newFixture(t, 3)
	*f.clock = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	out, err := f.controller.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Skipped)
	assert.Equal(t, orderbook.ReasonBeforeCutoff, out.Reason)
	assert.Equal(t, "2024-05-01", out.RunDate)

	// Nothing durable happened: no record, no snapshot load, no email
	assert.Empty(t, f.store.Snapshot())
	assert.Zero(t, f.source.calls)
	assert.Empty(t, f.dispatcher.sent)
}

func TestRun_ExactCutoffMinuteIsEligible(t *testing.T) {
	f := newFixture(t, 1)
	*f.clock = time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)

	out, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
}

// =============================================================================
// HAPPY PATH AND IDEMPOTENCE
// =============================================================================

func TestRun_SendsOnceAndSecondCallShortCircuits(t *testing.T) {
	f := newFixture(t, 3)

	out, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
	assert.Equal(t, 3, out.RowCount)
	assert.Equal(t, int64(1), out.Sequence)
	assert.Equal(t, "2024-05-01 11:59", out.DateLabel)

	require.Len(t, f.dispatcher.sent, 1)
	msg := f.dispatcher.sent[0]
	assert.Equal(t, "Daily Filled Order Book - 2024-05-01 11:59 (UTC)", msg.Subject)
	assert.Equal(t, "daily-filled-orderbook-2024-05-01.csv", msg.FileName)
	// header + 3 rows
	assert.Len(t, strings.Split(msg.Content, "\n"), 4)

	rec := f.record(t, "2024-05-01")
	assert.Equal(t, orderbook.StatusSent, rec.Status)
	assert.Equal(t, 3, rec.RowCount)
	assert.Equal(t, int64(1), rec.SequenceNumber)
	assert.Equal(t, "Filled Order Book 1", rec.Title)
	require.NotNil(t, rec.SentAt)
	assert.Len(t, rec.SnapshotRows, 3)

	// Later trigger the same day: skipped, no second email, record untouched
	*f.clock = f.clock.Add(45 * time.Minute)
	out, err = f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, orderbook.ReasonAlreadySent, out.Reason)
	require.NotNil(t, out.SentAt)
	assert.Equal(t, *rec.SentAt, *out.SentAt)
	assert.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, 1, f.source.calls)
}

func TestRun_SequenceIncrementsAcrossDates(t *testing.T) {
	f := newFixture(t, 1)

	out, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Sequence)

	*f.clock = time.Date(2024, 5, 2, 12, 30, 0, 0, time.UTC)
	out, err = f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
	assert.Equal(t, "2024-05-02", out.RunDate)
	assert.Equal(t, int64(2), out.Sequence)
}

// =============================================================================
// FAILURE AND RETRY
// =============================================================================

func TestRun_DispatchFailureRecordsAndRetryReusesIdentity(t *testing.T) {
	f := newFixture(t, 3)
	f.dispatcher.err = errors.New("insufficient funds")

	_, err := f.controller.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")

	rec := f.record(t, "2024-05-01")
	assert.Equal(t, orderbook.StatusFailed, rec.Status)
	assert.Equal(t, "insufficient funds", rec.ErrorMessage)
	assert.Equal(t, int64(1), rec.SequenceNumber)
	assert.Equal(t, "Filled Order Book 1", rec.Title)
	assert.Equal(t, "2024-05-01 11:59", rec.DateLabel)
	assert.Nil(t, rec.SentAt)
	// The attempted snapshot is preserved for the archive
	assert.Len(t, rec.SnapshotRows, 3)

	// Provider recovers; a later same-date trigger retries and keeps the
	// original sequence and date label.
	f.dispatcher.err = nil
	*f.clock = time.Date(2024, 5, 1, 13, 15, 0, 0, time.UTC)

	out, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
	assert.Equal(t, int64(1), out.Sequence)
	assert.Equal(t, "2024-05-01 11:59", out.DateLabel)

	rec = f.record(t, "2024-05-01")
	assert.Equal(t, orderbook.StatusSent, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	require.NotNil(t, rec.SentAt)
}

func TestRun_EmptySnapshotFinalizesNoDataAndStaysRetryable(t *testing.T) {
	f := newFixture(t, 0)

	out, err := f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, orderbook.ReasonNoEntries, out.Reason)
	assert.Empty(t, f.dispatcher.sent)

	rec := f.record(t, "2024-05-01")
	assert.Equal(t, orderbook.StatusNoData, rec.Status)
	assert.Nil(t, rec.SentAt)
	assert.Zero(t, rec.RowCount)

	// Data arrives later the same day: no_data is not terminal
	f.source.rows = sampleRows(2)
	*f.clock = f.clock.Add(time.Hour)

	out, err = f.controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
	assert.Equal(t, 2, out.RowCount)
}

func TestRun_SnapshotErrorLeavesRecordPending(t *testing.T) {
	f := newFixture(t, 0)
	f.source.err = errors.New("holdings query timed out")

	_, err := f.controller.Run(context.Background())
	require.Error(t, err)

	rec := f.record(t, "2024-05-01")
	assert.Equal(t, orderbook.StatusPending, rec.Status)
	assert.Nil(t, rec.SentAt)
}

// =============================================================================
// CONCURRENCY AND INCREMENTAL MODE
// =============================================================================

// refusingStore simulates losing the claim race: the lookup still sees no
// terminal record but the conditional claim reports zero rows affected.
type refusingStore struct {
	*memory.Memory
}

func (r *refusingStore) ClaimPending(context.Context, orderbook.PendingClaim) (bool, error) {
	return false, nil
}

func TestRun_ClaimRefusedSkipsWithoutDispatch(t *testing.T) {
	f := newFixture(t, 3)
	controller := orderbook.NewController(&refusingStore{f.store}, f.source, f.dispatcher, time.UTC, 11, 59, false).
		WithClock(func() time.Time { return *f.clock })

	out, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, orderbook.ReasonAlreadySent, out.Reason)
	assert.Empty(t, f.dispatcher.sent)
	assert.Zero(t, f.source.calls)
}

func TestRun_IncrementalPassesLastSentCursor(t *testing.T) {
	f := newFixture(t, 1)
	controller := orderbook.NewController(f.store, f.source, f.dispatcher, time.UTC, 11, 59, true).
		WithClock(func() time.Time { return *f.clock })

	// First ever run: no prior send, full snapshot
	out, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
	assert.Nil(t, f.source.lastSince)

	firstSent := *f.record(t, "2024-05-01").SentAt

	// Next day: the cursor points at yesterday's completion
	*f.clock = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	out, err = controller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Sent)
	require.NotNil(t, f.source.lastSince)
	assert.Equal(t, firstSent, *f.source.lastSince)
}
