package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/helioform/calstore/recurrence"
	"github.com/helioform/calstore/storage"
)

// Store implements storage.Store on a SQLite database. Times are kept
// as unix milliseconds so range predicates stay integer comparisons.
type Store struct {
	db       *sql.DB
	expander recurrence.Expander
	logger   *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens a SQLite store at the given path. Use
// ":memory:" for a throwaway database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time. Funneling everything through
	// a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		expander: recurrence.NewExpander(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExpander sets the recurrence expander used to maintain last dates
func WithExpander(exp recurrence.Expander) Option {
	return func(s *Store) {
		if exp != nil {
			s.expander = exp
		}
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		calendar_id INTEGER NOT NULL DEFAULT 0,
		sync_id TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		dtstart INTEGER,
		dtend INTEGER,
		duration TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		rrule TEXT NOT NULL DEFAULT '',
		rdate TEXT NOT NULL DEFAULT '',
		exrule TEXT NOT NULL DEFAULT '',
		exdate TEXT NOT NULL DEFAULT '',
		original_sync_id TEXT NOT NULL DEFAULT '',
		original_instance_time INTEGER,
		status INTEGER NOT NULL DEFAULT 0,
		last_date INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_events_window
		ON events(dtstart, last_date);
	CREATE INDEX IF NOT EXISTS idx_events_sync_id
		ON events(sync_id);
	CREATE INDEX IF NOT EXISTS idx_events_original_sync_id
		ON events(original_sync_id);

	CREATE TABLE IF NOT EXISTS instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		begin_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		start_day INTEGER NOT NULL,
		end_day INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		UNIQUE (event_id, begin_ms, end_ms) ON CONFLICT REPLACE
	);

	CREATE INDEX IF NOT EXISTS idx_instances_span
		ON instances(begin_ms, end_ms);
	CREATE INDEX IF NOT EXISTS idx_instances_days
		ON instances(start_day, end_day);

	-- Single row describing cache coverage. max_instance = 0 means the
	-- cache is empty.
	CREATE TABLE IF NOT EXISTS cache_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		timezone TEXT NOT NULL DEFAULT '',
		min_instance INTEGER NOT NULL DEFAULT 0,
		max_instance INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO cache_meta (id) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

const eventColumns = `id, calendar_id, sync_id, summary, dtstart, dtend, duration,
	timezone, all_day, rrule, rdate, exrule, exdate,
	original_sync_id, original_instance_time, status, last_date`

// PutEvent inserts or replaces an event. A zero ID is assigned by the
// database, and the event's LastDate is recomputed, both written back
// into ev.
func (s *Store) PutEvent(ctx context.Context, ev *storage.Event) error {
	last, err := storage.LastDate(ev, s.expander)
	if err != nil {
		s.logger.Warn("rejecting event",
			"event_id", ev.ID,
			"error", err)
		return err
	}
	ev.LastDate = last

	if ev.ID == 0 {
		query := `
			INSERT INTO events (calendar_id, sync_id, summary, dtstart, dtend, duration,
				timezone, all_day, rrule, rdate, exrule, exdate,
				original_sync_id, original_instance_time, status, last_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		res, err := s.db.ExecContext(ctx, query, eventArgs(ev)...)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		ev.ID = id
		return nil
	}

	query := `
		INSERT INTO events (id, calendar_id, sync_id, summary, dtstart, dtend, duration,
			timezone, all_day, rrule, rdate, exrule, exdate,
			original_sync_id, original_instance_time, status, last_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			sync_id = excluded.sync_id,
			summary = excluded.summary,
			dtstart = excluded.dtstart,
			dtend = excluded.dtend,
			duration = excluded.duration,
			timezone = excluded.timezone,
			all_day = excluded.all_day,
			rrule = excluded.rrule,
			rdate = excluded.rdate,
			exrule = excluded.exrule,
			exdate = excluded.exdate,
			original_sync_id = excluded.original_sync_id,
			original_instance_time = excluded.original_instance_time,
			status = excluded.status,
			last_date = excluded.last_date
	`
	args := append([]any{ev.ID}, eventArgs(ev)...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

// GetEvent returns the event with the given id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*storage.Event, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: fmt.Sprintf("no event with id %d", id),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return ev, nil
}

// DeleteEvent removes an event. Its instances go with it through the
// foreign key cascade.
func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: fmt.Sprintf("no event with id %d", id),
		}
	}
	return nil
}

// EventsInWindow implements storage.EventSource.
func (s *Store) EventsInWindow(ctx context.Context, begin, end time.Time, lookBack time.Duration) ([]*storage.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE dtstart IS NOT NULL
		  AND ((dtstart <= ? AND (last_date IS NULL OR last_date >= ?))
		    OR (original_instance_time IS NOT NULL
		        AND original_instance_time <= ?
		        AND original_instance_time >= ?))
		ORDER BY id
	`
	endMs := end.UnixMilli()
	return s.queryEvents(ctx, query,
		endMs, begin.UnixMilli(), endMs, begin.Add(-lookBack).UnixMilli())
}

// FamilyEvents implements storage.EventSource. An empty syncID means
// the event was never synced and forms a family of one.
func (s *Store) FamilyEvents(ctx context.Context, syncID string, eventID int64) ([]*storage.Event, error) {
	if syncID == "" {
		return s.queryEvents(ctx,
			"SELECT "+eventColumns+" FROM events WHERE id = ?", eventID)
	}
	return s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE sync_id = ? OR original_sync_id = ? ORDER BY id",
		syncID, syncID)
}

// ReplaceInstances writes the given rows atomically. The unique index
// on (event_id, begin_ms, end_ms) turns re-expansion of an already
// cached span into an overwrite.
func (s *Store) ReplaceInstances(ctx context.Context, instances []storage.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instances (event_id, begin_ms, end_ms, start_day, end_day, start_minute, end_minute)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instances {
		if _, err := stmt.ExecContext(ctx,
			inst.EventID, inst.Begin.UnixMilli(), inst.End.UnixMilli(),
			inst.StartDay, inst.EndDay, inst.StartMinute, inst.EndMinute); err != nil {
			return fmt.Errorf("failed to write instance: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteInstancesByEvent removes all instances of one event.
func (s *Store) DeleteInstancesByEvent(ctx context.Context, eventID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM instances WHERE event_id = ?", eventID); err != nil {
		return fmt.Errorf("failed to delete instances: %w", err)
	}
	return nil
}

// DeleteInstancesByFamily removes the instances of every event in a
// recurrence family.
func (s *Store) DeleteInstancesByFamily(ctx context.Context, syncID string) error {
	query := `
		DELETE FROM instances WHERE event_id IN
			(SELECT id FROM events WHERE sync_id = ? OR original_sync_id = ?)
	`
	if _, err := s.db.ExecContext(ctx, query, syncID, syncID); err != nil {
		return fmt.Errorf("failed to delete family instances: %w", err)
	}
	return nil
}

// DeleteAllInstances empties the instance table.
func (s *Store) DeleteAllInstances(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM instances"); err != nil {
		return fmt.Errorf("failed to clear instances: %w", err)
	}
	s.logger.Debug("instance table cleared")
	return nil
}

// Instances returns the instances overlapping [begin, end], ordered by
// begin time then event id.
func (s *Store) Instances(ctx context.Context, begin, end time.Time, opts *storage.QueryOptions) ([]storage.Instance, error) {
	query := `
		SELECT i.event_id, i.begin_ms, i.end_ms, i.start_day, i.end_day, i.start_minute, i.end_minute
		FROM instances i`
	if filtered(opts) {
		query += `
		JOIN events e ON e.id = i.event_id`
	}
	query += `
		WHERE i.begin_ms <= ? AND i.end_ms >= ?`
	args := []any{end.UnixMilli(), begin.UnixMilli()}
	query, args = appendCalendarFilter(query, args, opts)
	query += `
		ORDER BY i.begin_ms, i.event_id`

	return s.queryInstances(ctx, query, args...)
}

// InstancesByDay returns the instances whose day span overlaps
// [startDay, endDay].
func (s *Store) InstancesByDay(ctx context.Context, startDay, endDay int, opts *storage.QueryOptions) ([]storage.Instance, error) {
	query := `
		SELECT i.event_id, i.begin_ms, i.end_ms, i.start_day, i.end_day, i.start_minute, i.end_minute
		FROM instances i`
	if filtered(opts) {
		query += `
		JOIN events e ON e.id = i.event_id`
	}
	query += `
		WHERE i.start_day <= ? AND i.end_day >= ?`
	args := []any{endDay, startDay}
	query, args = appendCalendarFilter(query, args, opts)
	query += `
		ORDER BY i.begin_ms, i.event_id`

	return s.queryInstances(ctx, query, args...)
}

// BusyDays returns the Julian days in [startDay, endDay] covered by at
// least one instance, ascending.
func (s *Store) BusyDays(ctx context.Context, startDay, endDay int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_day, end_day FROM instances
		WHERE start_day <= ? AND end_day >= ?
	`, endDay, startDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query busy days: %w", err)
	}
	defer rows.Close()

	seen := make(map[int]bool)
	for rows.Next() {
		var lo, hi int
		if err := rows.Scan(&lo, &hi); err != nil {
			return nil, fmt.Errorf("failed to scan day span: %w", err)
		}
		if lo < startDay {
			lo = startDay
		}
		if hi > endDay {
			hi = endDay
		}
		for d := lo; d <= hi; d++ {
			seen[d] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	days := make([]int, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Ints(days)
	return days, nil
}

// Window implements storage.MetaStore.
func (s *Store) Window(ctx context.Context) (storage.Window, error) {
	var tz string
	var minMs, maxMs int64
	err := s.db.QueryRowContext(ctx,
		"SELECT timezone, min_instance, max_instance FROM cache_meta WHERE id = 1",
	).Scan(&tz, &minMs, &maxMs)
	if err != nil {
		return storage.Window{}, &storage.Error{
			Type:    storage.ErrUnavailable,
			Message: "failed to read cache coverage",
			Err:     err,
		}
	}
	if maxMs == 0 {
		return storage.Window{}, nil
	}
	return storage.Window{
		Timezone: tz,
		Min:      time.UnixMilli(minMs).UTC(),
		Max:      time.UnixMilli(maxMs).UTC(),
	}, nil
}

// SetWindow implements storage.MetaStore.
func (s *Store) SetWindow(ctx context.Context, w storage.Window) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cache_meta SET timezone = ?, min_instance = ?, max_instance = ? WHERE id = 1",
		w.Timezone, w.Min.UnixMilli(), w.Max.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache coverage: %w", err)
	}
	return nil
}

// ClearWindow implements storage.MetaStore.
func (s *Store) ClearWindow(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cache_meta SET timezone = '', min_instance = 0, max_instance = 0 WHERE id = 1")
	if err != nil {
		return fmt.Errorf("failed to clear cache coverage: %w", err)
	}
	return nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*storage.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*storage.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) queryInstances(ctx context.Context, query string, args ...any) ([]storage.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []storage.Instance
	for rows.Next() {
		var inst storage.Instance
		var beginMs, endMs int64
		if err := rows.Scan(&inst.EventID, &beginMs, &endMs,
			&inst.StartDay, &inst.EndDay, &inst.StartMinute, &inst.EndMinute); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		inst.Begin = time.UnixMilli(beginMs).UTC()
		inst.End = time.UnixMilli(endMs).UTC()
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanEvent(row interface{ Scan(dest ...any) error }) (*storage.Event, error) {
	var ev storage.Event
	var start, end, origTime, lastDate sql.NullInt64
	err := row.Scan(&ev.ID, &ev.CalendarID, &ev.SyncID, &ev.Summary,
		&start, &end, &ev.Duration, &ev.Timezone, &ev.AllDay,
		&ev.RRule, &ev.RDate, &ev.ExRule, &ev.ExDate,
		&ev.OriginalSyncID, &origTime, &ev.Status, &lastDate)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		ev.Start = time.UnixMilli(start.Int64).UTC()
	}
	ev.End = milliPtr(end)
	ev.OriginalTime = milliPtr(origTime)
	ev.LastDate = milliPtr(lastDate)
	return &ev, nil
}

func eventArgs(ev *storage.Event) []any {
	var start any
	if !ev.Start.IsZero() {
		start = ev.Start.UnixMilli()
	}
	return []any{
		ev.CalendarID, ev.SyncID, ev.Summary,
		start, milli(ev.End), ev.Duration,
		ev.Timezone, ev.AllDay,
		ev.RRule, ev.RDate, ev.ExRule, ev.ExDate,
		ev.OriginalSyncID, milli(ev.OriginalTime), int(ev.Status), milli(ev.LastDate),
	}
}

func milli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func milliPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func filtered(opts *storage.QueryOptions) bool {
	return opts != nil && len(opts.CalendarIDs) > 0
}

func appendCalendarFilter(query string, args []any, opts *storage.QueryOptions) (string, []any) {
	if !filtered(opts) {
		return query, args
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(opts.CalendarIDs)), ", ")
	query += " AND e.calendar_id IN (" + marks + ")"
	for _, id := range opts.CalendarIDs {
		args = append(args, id)
	}
	return query, args
}
