/*
controller.go - Daily run controller (the scheduling state machine)

PURPOSE:
  Decides, for "now", whether the daily report must be generated and sent
  for the current calendar date in the configured timezone, and drives the
  date's RunRecord to a terminal state exactly once.

ALGORITHM (per invocation):
  1. Resolve now into the report timezone -> dateKey (YYYY-MM-DD)
  2. Load the date's RunRecord; "sent" short-circuits (idempotence)
  3. Time gate: skip with no mutation while before the cutoff minute
  4. Atomically claim "pending" for the date (conditional upsert; the claim
     is refused if another invocation already reached "sent")
  5. Optionally resolve the since-cursor from the last successful send
  6. Build the snapshot rows
  7. Zero rows -> finalize as no_data (NOT terminal; a same-date retry
     re-attempts; only "sent" stops retries)
  8. Resolve the sequence number: reuse the date's prior one, else max+1
  9. Encode CSV and dispatch the email
 10. Success -> finalize as sent (single complete field set)
 11. Failure -> finalize as failed, preserving sequence/title/label/rows,
     and surface the dispatch error to the caller

FAILURE SEMANTICS:
  Errors before the claim leave no durable state. Errors after the claim
  leave the record pending/failed; the next invocation for the same date
  re-enters at step 2 and retries the full sequence. Every finalize writes
  one complete field set, so status and sent_at can never disagree.

CONCURRENCY:
  Two near-simultaneous triggers (external cron + in-process poller) are
  serialized by the store's conditional claim: once a date is "sent", a
  late claim affects zero rows and the caller skips without dispatching.

SEE ALSO:
  - store/sqlite: RunStore implementation
  - api/handlers.go: HTTP trigger surface
  - api/scheduler.go: in-process poller
*/
package orderbook

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// RunStore is the persistence contract for per-date run records. All methods
// may fail with connectivity or constraint errors; the controller treats any
// such error as fatal for the invocation and propagates it.
type RunStore interface {
	// GetRunByDate returns the record for dateKey, or nil when absent.
	GetRunByDate(ctx context.Context, dateKey string) (*RunRecord, error)

	// ClaimPending upserts the date's record to "pending" in one atomic
	// conditional write keyed on run_date. It returns false when the record
	// already reached "sent", in which case the caller must not dispatch.
	ClaimPending(ctx context.Context, claim PendingClaim) (bool, error)

	// FinalizeRun writes the complete finalization field set for dateKey.
	FinalizeRun(ctx context.Context, dateKey string, patch RunPatch) error

	// MaxSequence returns the highest sequence number across all records,
	// 0 when there are none.
	MaxSequence(ctx context.Context) (int64, error)

	// LastSentBefore returns the sent_at of the most recent run strictly
	// before dateKey with status "sent", or nil when there is none.
	LastSentBefore(ctx context.Context, dateKey string) (*time.Time, error)
}

// SnapshotSource loads the fully-built report rows. A nil since means a full
// live snapshot; otherwise only rows changed after since are included.
type SnapshotSource interface {
	LoadRows(ctx context.Context, since *time.Time) ([]ReportRow, error)
}

// CSVEmail is one report dispatch: a single CSV attachment.
type CSVEmail struct {
	Subject  string
	FileName string
	Content  string
}

// Dispatcher sends the encoded report to the configured recipients.
type Dispatcher interface {
	SendCSV(ctx context.Context, msg CSVEmail) error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives the daily run. Construct with NewController; the clock
// is injectable for tests.
type Controller struct {
	store      RunStore
	source     SnapshotSource
	dispatcher Dispatcher

	location     *time.Location
	targetHour   int
	targetMinute int
	incremental  bool

	now func() time.Time
}

// NewController wires a controller with the real clock.
func NewController(store RunStore, source SnapshotSource, dispatcher Dispatcher, loc *time.Location, targetHour, targetMinute int, incremental bool) *Controller {
	return &Controller{
		store:        store,
		source:       source,
		dispatcher:   dispatcher,
		location:     loc,
		targetHour:   targetHour,
		targetMinute: targetMinute,
		incremental:  incremental,
		now:          time.Now,
	}
}

// WithClock replaces the wall clock. Tests only.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Run performs one invocation of the daily-send state machine. It is safe to
// call redundantly: repeated calls after a successful send are no-ops.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	local := c.now().In(c.location)
	dateKey := local.Format("2006-01-02")

	// Step 2: terminal-state check. "sent" is the only terminal status.
	existing, err := c.store.GetRunByDate(ctx, dateKey)
	if err != nil {
		return nil, fmt.Errorf("run lookup for %s: %w", dateKey, err)
	}
	if existing != nil && existing.Status == StatusSent {
		return &Outcome{
			RunDate:  dateKey,
			Skipped:  true,
			Reason:   ReasonAlreadySent,
			LocalNow: local,
			SentAt:   existing.SentAt,
		}, nil
	}

	// Step 3: time gate. At or after the cutoff minute the date is eligible;
	// before it, nothing is created or mutated.
	if minuteOfDay(local) < c.targetHour*60+c.targetMinute {
		return &Outcome{
			RunDate:  dateKey,
			Skipped:  true,
			Reason:   ReasonBeforeCutoff,
			LocalNow: local,
		}, nil
	}

	// Step 4: durable claim. After this point the record exists and any
	// failure is recoverable by the next same-date invocation.
	claimed, err := c.store.ClaimPending(ctx, PendingClaim{
		DateKey:      dateKey,
		Timezone:     c.location.String(),
		TargetHour:   c.targetHour,
		TargetMinute: c.targetMinute,
		AttemptAt:    c.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending for %s: %w", dateKey, err)
	}
	if !claimed {
		// Lost the race: another invocation finished the send between our
		// lookup and the claim.
		return &Outcome{
			RunDate:  dateKey,
			Skipped:  true,
			Reason:   ReasonAlreadySent,
			LocalNow: local,
		}, nil
	}

	// Step 5: incremental baseline.
	var since *time.Time
	if c.incremental {
		since, err = c.store.LastSentBefore(ctx, dateKey)
		if err != nil {
			return nil, fmt.Errorf("since cursor for %s: %w", dateKey, err)
		}
	}

	// Step 6: snapshot build.
	rows, err := c.source.LoadRows(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("snapshot build for %s: %w", dateKey, err)
	}

	// Step 7: empty snapshot finalizes as no_data. Not terminal: a later
	// same-date trigger re-attempts with fresh data.
	if len(rows) == 0 {
		patch := RunPatch{
			Status:        StatusNoData,
			SentAt:        nil,
			RowCount:      0,
			LastAttemptAt: c.now(),
		}
		if existing != nil {
			patch.SequenceNumber = existing.SequenceNumber
			patch.Title = existing.Title
			patch.DateLabel = existing.DateLabel
		}
		if err := c.store.FinalizeRun(ctx, dateKey, patch); err != nil {
			return nil, fmt.Errorf("finalize no_data for %s: %w", dateKey, err)
		}
		return &Outcome{
			RunDate:  dateKey,
			Skipped:  true,
			Reason:   ReasonNoEntries,
			LocalNow: local,
		}, nil
	}

	// Step 8: sequence and display metadata. A prior failed attempt for this
	// date already holds them; reuse so retries keep the original identity.
	sequence, title, dateLabel, err := c.resolveIdentity(ctx, existing, local)
	if err != nil {
		return nil, fmt.Errorf("sequence for %s: %w", dateKey, err)
	}

	// Step 9: encode and dispatch.
	msg := CSVEmail{
		Subject:  fmt.Sprintf("Daily Filled Order Book - %s (%s)", dateLabel, c.location.String()),
		FileName: fmt.Sprintf("daily-filled-orderbook-%s.csv", dateKey),
		Content:  EncodeCSV(rows),
	}
	sendErr := c.dispatcher.SendCSV(ctx, msg)

	if sendErr != nil {
		// Step 11: compensating write, then surface the dispatch failure.
		patch := RunPatch{
			Status:         StatusFailed,
			SentAt:         nil,
			RowCount:       len(rows),
			SequenceNumber: sequence,
			Title:          title,
			DateLabel:      dateLabel,
			SnapshotRows:   rows,
			ErrorMessage:   sendErr.Error(),
			LastAttemptAt:  c.now(),
		}
		if err := c.store.FinalizeRun(ctx, dateKey, patch); err != nil {
			return nil, fmt.Errorf("finalize failed for %s: %w", dateKey, err)
		}
		return nil, fmt.Errorf("dispatch for %s: %w", dateKey, sendErr)
	}

	// Step 10: success finalize.
	sentAt := c.now()
	patch := RunPatch{
		Status:         StatusSent,
		SentAt:         &sentAt,
		RowCount:       len(rows),
		SequenceNumber: sequence,
		Title:          title,
		DateLabel:      dateLabel,
		SnapshotRows:   rows,
		ErrorMessage:   "",
		LastAttemptAt:  sentAt,
	}
	if err := c.store.FinalizeRun(ctx, dateKey, patch); err != nil {
		// Email is out but the record still reads pending/failed; the next
		// invocation retries the whole sequence. Surfacing the error is the
		// only honest option here.
		return nil, fmt.Errorf("finalize sent for %s: %w", dateKey, err)
	}

	return &Outcome{
		RunDate:   dateKey,
		Sent:      true,
		RowCount:  len(rows),
		Sequence:  sequence,
		DateLabel: dateLabel,
		LocalNow:  local,
	}, nil
}

// resolveIdentity returns the sequence number and display metadata for this
// date, reusing values from a prior attempt when present so they stay frozen
// across retries.
func (c *Controller) resolveIdentity(ctx context.Context, existing *RunRecord, local time.Time) (int64, string, string, error) {
	var sequence int64
	if existing != nil && existing.SequenceNumber > 0 {
		sequence = existing.SequenceNumber
	} else {
		max, err := c.store.MaxSequence(ctx)
		if err != nil {
			return 0, "", "", err
		}
		sequence = max + 1
	}

	title := ""
	dateLabel := ""
	if existing != nil {
		title = existing.Title
		dateLabel = existing.DateLabel
	}
	if title == "" {
		title = fmt.Sprintf("Filled Order Book %d", sequence)
	}
	if dateLabel == "" {
		dateLabel = local.Format("2006-01-02 15:04")
	}
	return sequence, title, dateLabel, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
