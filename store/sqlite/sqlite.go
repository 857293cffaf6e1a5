/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements orderbook.RunStore (daily run records) and
  orderbook.SnapshotSource (live holdings joined with reference data) using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  orderbook_email_runs: One row per calendar date, keyed on run_date. This
                        is both the scheduler's state machine and the
                        permanent archive; rows are never deleted.
  stock_holdings:       Raw holdings the report is built from.
  securities:           Instrument reference data (name, symbol).
  profiles:             Per-user settlement reference data.

RUN_DATE UNIQUENESS:
  The run_date primary key plus upsert-on-conflict writes guarantee exactly
  one record per date. The pending claim is a conditional upsert that
  refuses to touch a record already in 'sent' status, which closes the
  double-send window between two near-simultaneous triggers.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency
  and crash recovery.

USAGE:
  store, err := sqlite.New("./data/orderdesk.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - orderbook/controller.go: RunStore contract and consumer
  - store/memory: in-memory RunStore for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/orderdesk/orderbook"
)

// Store implements the run-record and market-data storage using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Daily run records: state machine + permanent archive, one row per date
	CREATE TABLE IF NOT EXISTS orderbook_email_runs (
		run_date TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		timezone TEXT,
		target_hour INTEGER,
		target_minute INTEGER,
		sequence_number INTEGER,
		title TEXT,
		date_label TEXT,
		snapshot_rows TEXT,
		row_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		sent_at TEXT,
		last_attempt_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON orderbook_email_runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_sequence
		ON orderbook_email_runs(sequence_number);

	-- Raw holdings the report snapshot is built from
	CREATE TABLE IF NOT EXISTS stock_holdings (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		security_id TEXT,
		quantity TEXT,
		status TEXT,
		fill_date TEXT,
		exit_date TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_updated_at
		ON stock_holdings(updated_at DESC);

	-- Instrument reference data
	CREATE TABLE IF NOT EXISTS securities (
		id TEXT PRIMARY KEY,
		name TEXT,
		symbol TEXT
	);

	-- Per-user settlement reference data
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		settlement_account TEXT,
		broker_ref TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUN RECORDS (orderbook.RunStore)
// =============================================================================

// GetRunByDate returns the run record for dateKey, or nil when absent.
func (s *Store) GetRunByDate(ctx context.Context, dateKey string) (*orderbook.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT run_date, status, timezone, target_hour, target_minute,
		       sequence_number, title, date_label, snapshot_rows, row_count,
		       error_message, sent_at, last_attempt_at, created_at, updated_at
		FROM orderbook_email_runs
		WHERE run_date = ?
	`, dateKey)

	rec, err := scanRunRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", dateKey, err)
	}
	return rec, nil
}

// ClaimPending upserts the date's record to pending in one atomic conditional
// write. The conflict branch refuses to overwrite a record that already
// reached 'sent'; in that case zero rows are affected and the claim fails.
func (s *Store) ClaimPending(ctx context.Context, claim orderbook.PendingClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := claim.AttemptAt.UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orderbook_email_runs
			(run_date, status, timezone, target_hour, target_minute,
			 last_attempt_at, error_message, created_at, updated_at)
		VALUES (?, 'pending', ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(run_date) DO UPDATE SET
			status = 'pending',
			timezone = excluded.timezone,
			target_hour = excluded.target_hour,
			target_minute = excluded.target_minute,
			last_attempt_at = excluded.last_attempt_at,
			error_message = NULL,
			updated_at = excluded.updated_at
		WHERE orderbook_email_runs.status != 'sent'
	`, claim.DateKey, claim.Timezone, claim.TargetHour, claim.TargetMinute, now, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim pending for %s: %w", claim.DateKey, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for %s: %w", claim.DateKey, err)
	}
	return affected > 0, nil
}

// FinalizeRun writes the complete finalization field set for dateKey.
func (s *Store) FinalizeRun(ctx context.Context, dateKey string, patch orderbook.RunPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshotJSON, err := json.Marshal(patch.SnapshotRows)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot rows: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orderbook_email_runs SET
			status = ?,
			sent_at = ?,
			row_count = ?,
			sequence_number = ?,
			title = ?,
			date_label = ?,
			snapshot_rows = ?,
			error_message = ?,
			last_attempt_at = ?,
			updated_at = ?
		WHERE run_date = ?
	`,
		string(patch.Status),
		nullTime(patch.SentAt),
		patch.RowCount,
		nullInt(patch.SequenceNumber),
		nullString(patch.Title),
		nullString(patch.DateLabel),
		string(snapshotJSON),
		nullString(patch.ErrorMessage),
		patch.LastAttemptAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		dateKey,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize run %s: %w", dateKey, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no run record exists for %s", dateKey)
	}
	return nil
}

// MaxSequence returns the highest assigned sequence number, 0 if none.
func (s *Store) MaxSequence(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence_number), 0) FROM orderbook_email_runs",
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}
	return max, nil
}

// LastSentBefore returns the sent_at of the most recent successfully sent run
// strictly before dateKey, or nil when there is none.
func (s *Store) LastSentBefore(ctx context.Context, dateKey string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sentAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_at FROM orderbook_email_runs
		WHERE status = 'sent' AND sent_at IS NOT NULL AND run_date < ?
		ORDER BY run_date DESC
		LIMIT 1
	`, dateKey).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last sent run: %w", err)
	}

	t, err := time.Parse(time.RFC3339, sentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sent_at %q: %w", sentAt, err)
	}
	return &t, nil
}

// ListRuns returns all run records for the archive, newest sequence first.
func (s *Store) ListRuns(ctx context.Context) ([]orderbook.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_date, status, timezone, target_hour, target_minute,
		       sequence_number, title, date_label, snapshot_rows, row_count,
		       error_message, sent_at, last_attempt_at, created_at, updated_at
		FROM orderbook_email_runs
		ORDER BY sequence_number DESC NULLS LAST, run_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []orderbook.RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// UpsertArchive upserts an externally supplied snapshot keyed on run_date.
// Unlike ClaimPending this is an unconditional merge: the caller owns the
// record's content.
func (s *Store) UpsertArchive(ctx context.Context, rec orderbook.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshotJSON, err := json.Marshal(rec.SnapshotRows)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot rows: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var sentAt any
	if rec.Status == orderbook.StatusSent {
		sentAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orderbook_email_runs
			(run_date, status, row_count, sequence_number, title, date_label,
			 snapshot_rows, error_message, sent_at, last_attempt_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_date) DO UPDATE SET
			status = excluded.status,
			row_count = excluded.row_count,
			sequence_number = excluded.sequence_number,
			title = excluded.title,
			date_label = excluded.date_label,
			snapshot_rows = excluded.snapshot_rows,
			error_message = excluded.error_message,
			sent_at = excluded.sent_at,
			last_attempt_at = excluded.last_attempt_at,
			updated_at = excluded.updated_at
	`,
		rec.RunDate,
		string(rec.Status),
		rec.RowCount,
		nullInt(rec.SequenceNumber),
		nullString(rec.Title),
		nullString(rec.DateLabel),
		string(snapshotJSON),
		nullString(rec.ErrorMessage),
		sentAt,
		now,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert archive for %s: %w", rec.RunDate, err)
	}
	return nil
}

// =============================================================================
// MARKET DATA (orderbook.SnapshotSource)
// =============================================================================

// LoadRows loads the live holdings (optionally only those changed after
// since), joins the reference data, and returns fully-built report rows.
func (s *Store) LoadRows(ctx context.Context, since *time.Time) ([]orderbook.ReportRow, error) {
	holdings, err := s.loadHoldings(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return []orderbook.ReportRow{}, nil
	}

	var securityIDs, userIDs []string
	seenSecurity := map[string]bool{}
	seenUser := map[string]bool{}
	for _, h := range holdings {
		if h.SecurityID != "" && !seenSecurity[h.SecurityID] {
			seenSecurity[h.SecurityID] = true
			securityIDs = append(securityIDs, h.SecurityID)
		}
		if h.UserID != "" && !seenUser[h.UserID] {
			seenUser[h.UserID] = true
			userIDs = append(userIDs, h.UserID)
		}
	}

	securities, err := s.loadSecurities(ctx, securityIDs)
	if err != nil {
		return nil, err
	}
	profiles, err := s.loadProfiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	return orderbook.BuildRows(holdings, securities, profiles), nil
}

func (s *Store) loadHoldings(ctx context.Context, since *time.Time) ([]orderbook.HoldingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, security_id, quantity, status, fill_date, exit_date, updated_at
		FROM stock_holdings
	`
	var args []any
	if since != nil {
		query += " WHERE updated_at > ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []orderbook.HoldingRow
	for rows.Next() {
		var (
			h         orderbook.HoldingRow
			userID    sql.NullString
			security  sql.NullString
			quantity  sql.NullString
			status    sql.NullString
			fillDate  sql.NullString
			exitDate  sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&h.ID, &userID, &security, &quantity, &status, &fillDate, &exitDate, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.UserID = userID.String
		h.SecurityID = security.String
		h.Quantity = quantity.String
		h.Status = status.String
		h.FillDate = fillDate.String
		h.ExitDate = exitDate.String
		h.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *Store) loadSecurities(ctx context.Context, ids []string) ([]orderbook.Security, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(
		"SELECT id, name, symbol FROM securities WHERE id IN (%s)",
		placeholders(len(ids)),
	)

	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []orderbook.Security
	for rows.Next() {
		var (
			sec    orderbook.Security
			name   sql.NullString
			symbol sql.NullString
		)
		if err := rows.Scan(&sec.ID, &name, &symbol); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		sec.Name = name.String
		sec.Symbol = symbol.String
		securities = append(securities, sec)
	}
	return securities, rows.Err()
}

func (s *Store) loadProfiles(ctx context.Context, userIDs []string) ([]orderbook.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(
		"SELECT user_id, settlement_account, broker_ref FROM profiles WHERE user_id IN (%s)",
		placeholders(len(userIDs)),
	)

	rows, err := s.db.QueryContext(ctx, query, toAnySlice(userIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []orderbook.Profile
	for rows.Next() {
		var (
			p          orderbook.Profile
			settlement sql.NullString
			brokerRef  sql.NullString
		)
		if err := rows.Scan(&p.UserID, &settlement, &brokerRef); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.SettlementAccount = settlement.String
		p.BrokerRef = brokerRef.String
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// SaveHolding upserts a holdings row. Used by seeding and tests.
func (s *Store) SaveHolding(ctx context.Context, h orderbook.HoldingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedAt := h.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_holdings (id, user_id, security_id, quantity, status, fill_date, exit_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			security_id = excluded.security_id,
			quantity = excluded.quantity,
			status = excluded.status,
			fill_date = excluded.fill_date,
			exit_date = excluded.exit_date,
			updated_at = excluded.updated_at
	`, h.ID, h.UserID, h.SecurityID, h.Quantity, h.Status, h.FillDate, h.ExitDate,
		updatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save holding %s: %w", h.ID, err)
	}
	return nil
}

// SaveSecurity upserts an instrument reference row.
func (s *Store) SaveSecurity(ctx context.Context, sec orderbook.Security) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO securities (id, name, symbol) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, symbol = excluded.symbol
	`, sec.ID, sec.Name, sec.Symbol)
	if err != nil {
		return fmt.Errorf("failed to save security %s: %w", sec.ID, err)
	}
	return nil
}

// SaveProfile upserts a user settlement profile.
func (s *Store) SaveProfile(ctx context.Context, p orderbook.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, settlement_account, broker_ref) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			settlement_account = excluded.settlement_account,
			broker_ref = excluded.broker_ref
	`, p.UserID, p.SettlementAccount, p.BrokerRef)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.UserID, err)
	}
	return nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(row rowScanner) (*orderbook.RunRecord, error) {
	var (
		rec           orderbook.RunRecord
		status        string
		timezone      sql.NullString
		targetHour    sql.NullInt64
		targetMinute  sql.NullInt64
		sequence      sql.NullInt64
		title         sql.NullString
		dateLabel     sql.NullString
		snapshotJSON  sql.NullString
		errorMessage  sql.NullString
		sentAt        sql.NullString
		lastAttemptAt sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&rec.RunDate, &status, &timezone, &targetHour, &targetMinute,
		&sequence, &title, &dateLabel, &snapshotJSON, &rec.RowCount,
		&errorMessage, &sentAt, &lastAttemptAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = orderbook.RunStatus(status)
	rec.Timezone = timezone.String
	rec.TargetHour = int(targetHour.Int64)
	rec.TargetMinute = int(targetMinute.Int64)
	rec.SequenceNumber = sequence.Int64
	rec.Title = title.String
	rec.DateLabel = dateLabel.String
	rec.ErrorMessage = errorMessage.String

	if snapshotJSON.Valid && snapshotJSON.String != "" {
		if err := json.Unmarshal([]byte(snapshotJSON.String), &rec.SnapshotRows); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot rows for %s: %w", rec.RunDate, err)
		}
	}
	if sentAt.Valid {
		if t, err := time.Parse(time.RFC3339, sentAt.String); err == nil {
			rec.SentAt = &t
		}
	}
	if lastAttemptAt.Valid {
		if t, err := time.Parse(time.RFC3339, lastAttemptAt.String); err == nil {
			rec.LastAttemptAt = &t
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &rec, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
