/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stored RunRecord from the external API contract; the archive items in
  particular carry normalization fallbacks (sequence by position, title and
  label defaults) that belong to the API surface, not to storage.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
  - orderbook/types.go: the domain types these project
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/orderdesk/orderbook"
)

// =============================================================================
// CRON TRIGGER
// =============================================================================

// LocalTimeDTO echoes the invocation time resolved into the report timezone.
type LocalTimeDTO struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// TargetDTO echoes the configured cutoff.
type TargetDTO struct {
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	TimeZone string `json:"timeZone"`
}

// CronResultDTO is the trigger endpoint's 200 body for every handled path.
type CronResultDTO struct {
	OK       bool          `json:"ok"`
	Skipped  bool          `json:"skipped,omitempty"`
	Sent     bool          `json:"sent,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	RunDate  string        `json:"runDate,omitempty"`
	RowCount int           `json:"rowCount,omitempty"`
	At       string        `json:"at,omitempty"`
	Sequence int64         `json:"sequence,omitempty"`
	SentAt   *time.Time    `json:"sentAt,omitempty"`
	TimeZone string        `json:"timeZone,omitempty"`
	Now      *LocalTimeDTO `json:"now,omitempty"`
	Target   *TargetDTO    `json:"target,omitempty"`
}

// =============================================================================
// ARCHIVE
// =============================================================================

// ArchiveItemDTO is one archived run as exposed to clients.
type ArchiveItemDTO struct {
	ID          string                `json:"id"`
	DateKey     string                `json:"dateKey"`
	Sequence    int64                 `json:"sequence"`
	Title       string                `json:"title"`
	DateLabel   string                `json:"dateLabel"`
	CreatedAt   *time.Time            `json:"createdAt"`
	Rows        []orderbook.ReportRow `json:"rows"`
	EmailStatus string                `json:"emailStatus"`
	EmailError  string                `json:"emailError"`
	RunDate     string                `json:"runDate"`
}

// ArchiveListDTO wraps the archive items.
type ArchiveListDTO struct {
	Items []ArchiveItemDTO `json:"items"`
}

// SnapshotPayload is the snapshot object carried by the archive upsert body.
type SnapshotPayload struct {
	DateKey     string                `json:"dateKey"`
	RunDate     string                `json:"runDate"`
	CreatedAt   string                `json:"createdAt"`
	Sequence    int64                 `json:"sequence"`
	Rows        []orderbook.ReportRow `json:"rows"`
	Title       string                `json:"title"`
	DateLabel   string                `json:"dateLabel"`
	EmailStatus string                `json:"emailStatus"`
	EmailError  string                `json:"emailError"`
}

// ArchiveUpsertRequest is the archive upsert body.
type ArchiveUpsertRequest struct {
	Snapshot *SnapshotPayload `json:"snapshot"`
}

// =============================================================================
// MANUAL SEND
// =============================================================================

// SendCSVRequest triggers a direct dispatch, bypassing the run controller.
type SendCSVRequest struct {
	Subject    string `json:"subject"`
	CSVContent string `json:"csvContent"`
	FileName   string `json:"fileName"`
}

// OKResponse is the minimal success body.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// toArchiveItems projects stored run records into archive items. Records
// without a stored snapshot are excluded; missing display metadata falls
// back to position-derived defaults.
func toArchiveItems(records []orderbook.RunRecord) []ArchiveItemDTO {
	items := make([]ArchiveItemDTO, 0, len(records))
	position := 0
	for _, rec := range records {
		if len(rec.SnapshotRows) == 0 {
			continue
		}
		position++

		sequence := rec.SequenceNumber
		if sequence == 0 {
			sequence = int64(position)
		}

		title := rec.Title
		if title == "" {
			title = fmt.Sprintf("Order Book %d", sequence)
		}

		dateLabel := rec.DateLabel
		if dateLabel == "" {
			dateLabel = rec.RunDate
		}

		emailStatus := ""
		switch rec.Status {
		case orderbook.StatusSent:
			emailStatus = "sent"
		case orderbook.StatusFailed:
			emailStatus = "failed"
		}

		items = append(items, ArchiveItemDTO{
			ID:          fmt.Sprintf("%s-%d", rec.RunDate, sequence),
			DateKey:     rec.RunDate,
			Sequence:    sequence,
			Title:       title,
			DateLabel:   dateLabel,
			CreatedAt:   archiveCreatedAt(rec),
			Rows:        rec.SnapshotRows,
			EmailStatus: emailStatus,
			EmailError:  rec.ErrorMessage,
			RunDate:     rec.RunDate,
		})
	}
	return items
}

// archiveCreatedAt picks the display timestamp: sent_at, else updated_at,
// else created_at.
func archiveCreatedAt(rec orderbook.RunRecord) *time.Time {
	if rec.SentAt != nil {
		return rec.SentAt
	}
	if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		return &t
	}
	if !rec.CreatedAt.IsZero() {
		t := rec.CreatedAt
		return &t
	}
	return nil
}
