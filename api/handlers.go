/*
handlers.go - HTTP API handlers for the order desk report service

PURPOSE:
  Exposes the daily report machinery and the KYC proxy via REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Report:
    GET  /api/orderbook/cron-daily  External trigger for the daily send
    GET  /api/orderbook/archive     Archived run snapshots
    POST /api/orderbook/archive     Upsert an externally built snapshot
    POST /api/orderbook/send-csv    Manual dispatch (no run record)

  KYC proxy:
    GET  /api/sumsub/applicant      Applicant by external user id
    GET  /api/sumsub/metadata       Applicant document metadata
    GET  /api/sumsub/image          Document image (binary pass-through)

AUTHENTICATION:
  cron-daily:   optional static secret (CRON_SECRET), exact bearer match.
  archive/send: end-user bearer token verified against the identity
                provider. Auth failures reject the request before any
                state mutation.
  sumsub:       none at this surface; the outbound request is signed.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Missing parameters, malformed body or date
  - 401: Missing/invalid bearer credential
  - 500: Missing configuration, upstream failure, internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - orderbook/controller.go: the daily run state machine
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/warp/orderdesk/config"
	"github.com/warp/orderdesk/identity"
	"github.com/warp/orderdesk/orderbook"
	"github.com/warp/orderdesk/store/sqlite"
	"github.com/warp/orderdesk/sumsub"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Controller *orderbook.Controller
	Dispatcher orderbook.Dispatcher
	Sumsub     *sumsub.Client
	Identity   identity.Verifier
	Config     *config.Config
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, controller *orderbook.Controller, dispatcher orderbook.Dispatcher, kyc *sumsub.Client, verifier identity.Verifier, cfg *config.Config) *Handler {
	return &Handler{
		Store:      store,
		Controller: controller,
		Dispatcher: dispatcher,
		Sumsub:     kyc,
		Identity:   verifier,
		Config:     cfg,
	}
}

// =============================================================================
// DAILY CRON TRIGGER
// =============================================================================

// CronDaily runs one invocation of the daily-send state machine.
// GET /api/orderbook/cron-daily
func (h *Handler) CronDaily(w http.ResponseWriter, r *http.Request) {
	if h.Config.CronSecret != "" {
		if r.Header.Get("Authorization") != "Bearer "+h.Config.CronSecret {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
			return
		}
	}

	outcome, err := h.Controller.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Daily cron send failed", err)
		return
	}

	result := CronResultDTO{
		OK:       true,
		RunDate:  outcome.RunDate,
		TimeZone: h.Config.Timezone,
		Now:      toLocalTimeDTO(outcome.LocalNow),
		Target: &TargetDTO{
			Hour:     h.Config.TargetHour,
			Minute:   h.Config.TargetMinute,
			TimeZone: h.Config.Timezone,
		},
	}

	if outcome.Sent {
		result.Sent = true
		result.RowCount = outcome.RowCount
		result.Sequence = outcome.Sequence
		result.At = outcome.DateLabel
	} else {
		result.Skipped = true
		result.Reason = outcome.Reason
		result.SentAt = outcome.SentAt
	}

	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// ARCHIVE ENDPOINTS
// =============================================================================

// Archive returns all archived run snapshots, newest first.
// GET /api/orderbook/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}

	records, err := h.Store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not load orderbook archive", err)
		return
	}

	writeJSON(w, http.StatusOK, ArchiveListDTO{Items: toArchiveItems(records)})
}

// ArchiveUpsert stores an externally built snapshot keyed by its run date.
// POST /api/orderbook/archive
func (h *Handler) ArchiveUpsert(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}

	var req ArchiveUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Snapshot == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Missing snapshot payload"})
		return
	}
	snapshot := req.Snapshot

	runDate := normalizeRunDate(firstNonEmpty(snapshot.DateKey, snapshot.RunDate, snapshot.CreatedAt))
	if runDate == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid snapshot date"})
		return
	}

	status := orderbook.StatusPending
	switch snapshot.EmailStatus {
	case "sent":
		status = orderbook.StatusSent
	case "failed":
		status = orderbook.StatusFailed
	}

	title := snapshot.Title
	if title == "" && snapshot.Sequence > 0 {
		title = "Filled Order Book " + strconv.FormatInt(snapshot.Sequence, 10)
	}

	rec := orderbook.RunRecord{
		RunDate:        runDate,
		Status:         status,
		SequenceNumber: snapshot.Sequence,
		Title:          title,
		DateLabel:      snapshot.DateLabel,
		SnapshotRows:   snapshot.Rows,
		RowCount:       len(snapshot.Rows),
		ErrorMessage:   snapshot.EmailError,
	}

	if err := h.Store.UpsertArchive(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Could not upsert orderbook archive", err)
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// =============================================================================
// MANUAL SEND
// =============================================================================

// SendCSV dispatches a CSV directly, bypassing the run controller. No run
// record is written.
// POST /api/orderbook/send-csv
func (h *Handler) SendCSV(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}

	var req SendCSVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	err := h.Dispatcher.SendCSV(r.Context(), orderbook.CSVEmail{
		Subject:  req.Subject,
		FileName: req.FileName,
		Content:  req.CSVContent,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not send orderbook CSV email", err)
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// =============================================================================
// KYC PROXY ENDPOINTS
// =============================================================================

// SumsubApplicant proxies the applicant-by-external-id lookup.
// GET /api/sumsub/applicant?externalUserId=...
func (h *Handler) SumsubApplicant(w http.ResponseWriter, r *http.Request) {
	externalUserID := r.URL.Query().Get("externalUserId")
	if externalUserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "externalUserId is required"})
		return
	}

	resp, err := h.Sumsub.Applicant(r.Context(), externalUserID)
	h.writeProxied(w, resp, err)
}

// SumsubMetadata proxies the applicant document metadata lookup.
// GET /api/sumsub/metadata?applicantId=...
func (h *Handler) SumsubMetadata(w http.ResponseWriter, r *http.Request) {
	applicantID := r.URL.Query().Get("applicantId")
	if applicantID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "applicantId is required"})
		return
	}

	resp, err := h.Sumsub.Metadata(r.Context(), applicantID)
	h.writeProxied(w, resp, err)
}

// SumsubImage proxies a document image, preserving the upstream content type.
// GET /api/sumsub/image?inspectionId=...&imageId=...
func (h *Handler) SumsubImage(w http.ResponseWriter, r *http.Request) {
	inspectionID := r.URL.Query().Get("inspectionId")
	imageID := r.URL.Query().Get("imageId")
	if inspectionID == "" || imageID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "inspectionId and imageId are required"})
		return
	}

	resp, err := h.Sumsub.Image(r.Context(), inspectionID, imageID)
	h.writeProxied(w, resp, err)
}

// writeProxied passes an upstream reply through unchanged, or maps transport
// and configuration failures to 500.
func (h *Handler) writeProxied(w http.ResponseWriter, resp *sumsub.Response, err error) {
	if err != nil {
		if orderbook.IsConfiguration(err) {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Sumsub credentials are not configured"})
			return
		}
		writeError(w, http.StatusInternalServerError, "Sumsub request failed", err)
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// =============================================================================
// AUTH + HELPERS
// =============================================================================

// requireUser enforces the identity-provider bearer check shared by the
// archive and manual-send endpoints. Returns false after writing the
// rejection response.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing Authorization bearer token"})
		return false
	}

	if err := h.Identity.Verify(r.Context(), token); err != nil {
		if orderbook.IsAuthentication(err) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid bearer token"})
			return false
		}
		writeError(w, http.StatusInternalServerError, "Could not verify bearer token", err)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

var runDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// normalizeRunDate accepts a YYYY-MM-DD key verbatim, otherwise parses the
// value as a timestamp and reduces it to a date. Empty string means invalid.
func normalizeRunDate(value string) string {
	text := strings.TrimSpace(value)
	if runDatePattern.MatchString(text) {
		return text
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func toLocalTimeDTO(t time.Time) *LocalTimeDTO {
	if t.IsZero() {
		return nil
	}
	return &LocalTimeDTO{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
