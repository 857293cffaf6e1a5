/*
Package orderbook implements the daily order-book report: snapshot building,
CSV encoding, and the run controller that guarantees at-most-one successful
send per calendar day.

CORE TYPES:
  ReportRow:  One line of the emailed CSV, fully materialized.
  RunRecord:  Durable per-date state of the daily job (the archive).
  Outcome:    Result of one controller invocation (sent or skipped + reason).

LIFECYCLE:
  A RunRecord is created as "pending" on the first eligible attempt for a
  date and moves through failed/no_data/sent on later attempts for that same
  date. "sent" is terminal; records are never deleted.

SEE ALSO:
  - controller.go: the run state machine
  - rows.go: raw holdings -> ReportRow
  - csv.go: ReportRow -> CSV text
*/
package orderbook

import "time"

// =============================================================================
// RUN STATUS
// =============================================================================

// RunStatus is the lifecycle state of a daily run.
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusSent    RunStatus = "sent"
	StatusFailed  RunStatus = "failed"
	StatusNoData  RunStatus = "no_data"
)

// Terminal reports whether no further same-date attempt may run.
// Only "sent" is terminal: a no_data or failed date is retried by the next
// trigger for that date.
func (s RunStatus) Terminal() bool {
	return s == StatusSent
}

// =============================================================================
// REPORT ROWS
// =============================================================================

// ReportRow is one fully-built line of the order book report, exactly as
// attempted or sent. Stored on the RunRecord so the archive shows what went
// out, not what the live tables look like now.
type ReportRow struct {
	Line              int    `json:"line"`
	InstrumentName    string `json:"instrumentName"`
	Ticker            string `json:"ticker"`
	ISIN              string `json:"isin"`
	Side              string `json:"side"`
	TotalQuantity     string `json:"totalQuantity"`
	OrderType         string `json:"orderType"`
	SettlementAccount string `json:"settlementAccount"`
	BrokerRef         string `json:"brokerRef"`
}

// HoldingRow is a raw holdings record as loaded from storage. Quantity is
// kept as text: non-numeric values must survive into the report verbatim.
type HoldingRow struct {
	ID         string
	UserID     string
	SecurityID string
	Quantity   string
	Status     string
	FillDate   string
	ExitDate   string
	UpdatedAt  time.Time
}

// Security is instrument reference data looked up by holding.SecurityID.
type Security struct {
	ID     string
	Name   string
	Symbol string
}

// Profile is per-user settlement reference data looked up by holding.UserID.
type Profile struct {
	UserID            string
	SettlementAccount string
	BrokerRef         string
}

// =============================================================================
// RUN RECORD
// =============================================================================

// RunRecord is the durable state of one calendar date's report job, uniquely
// keyed by RunDate (YYYY-MM-DD in the configured timezone).
type RunRecord struct {
	RunDate      string
	Status       RunStatus
	Timezone     string
	TargetHour   int
	TargetMinute int

	// Assigned at most once per date; stable across retries of that date.
	SequenceNumber int64

	// Display metadata, computed on the first successful-path attempt and
	// frozen afterwards so a retried send does not relabel the run.
	Title     string
	DateLabel string

	SnapshotRows  []ReportRow
	RowCount      int
	ErrorMessage  string
	SentAt        *time.Time
	LastAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingClaim is the field set written when an invocation claims a date.
type PendingClaim struct {
	DateKey      string
	Timezone     string
	TargetHour   int
	TargetMinute int
	AttemptAt    time.Time
}

// RunPatch is the complete field set written when an invocation finalizes a
// date. Every finalize writes all of these in one store call; there is no
// partial update that could leave status and sent_at disagreeing.
type RunPatch struct {
	Status         RunStatus
	SentAt         *time.Time
	RowCount       int
	SequenceNumber int64
	Title          string
	DateLabel      string
	SnapshotRows   []ReportRow
	ErrorMessage   string
	LastAttemptAt  time.Time
}

// =============================================================================
// OUTCOME
// =============================================================================

// Skip reasons surfaced to trigger callers.
const (
	ReasonBeforeCutoff = "Before cutoff time"
	ReasonAlreadySent  = "Already sent for date"
	ReasonNoEntries    = "No new entries"
)

// Outcome describes what one controller invocation did.
type Outcome struct {
	RunDate  string
	Skipped  bool
	Sent     bool
	Reason   string
	RowCount int
	Sequence int64

	// DateLabel is the "YYYY-MM-DD HH:MM" label a sent report was titled with.
	DateLabel string

	// LocalNow is the invocation time resolved into the report timezone.
	LocalNow time.Time

	// SentAt echoes the original completion time on "already sent" skips.
	SentAt *time.Time
}
