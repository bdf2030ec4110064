// Package storage keeps locally created events and payments in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	appLog "daybook/internal/log"
	"daybook/internal/model"
)

var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so text order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory when missing and
// applies migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	appLog.Info("store opened", "path", dbPath)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, title, description, location, start_at, end_at, tz,
		       all_day, color, label, recurrence
		FROM events
		ORDER BY start_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev             model.Event
			start, end, tz string
			color          string
			rule           sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.SourceID, &ev.Title, &ev.Description, &ev.Location,
			&start, &end, &tz, &ev.AllDay, &color, &ev.Label, &rule); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		loc := location(tz)
		if ev.Start, err = parseTime(start, loc); err != nil {
			return nil, fmt.Errorf("event %s start: %w", ev.ID, err)
		}
		if ev.End, err = parseTime(end, loc); err != nil {
			return nil, fmt.Errorf("event %s end: %w", ev.ID, err)
		}
		if err := ev.Color.UnmarshalText([]byte(color)); err != nil {
			return nil, err
		}
		if ev.Recurrence, err = decodeRule(rule); err != nil {
			return nil, fmt.Errorf("event %s recurrence: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveEvent inserts or replaces ev after validating it.
func (s *Store) SaveEvent(ctx context.Context, ev model.Event) error {
	return saveEvent(ctx, s.db, ev)
}

func saveEvent(ctx context.Context, q queryer, ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	rule, err := encodeRule(ev.Recurrence)
	if err != nil {
		return err
	}
	color, _ := ev.Color.MarshalText()

	_, err = q.ExecContext(ctx, `
		INSERT INTO events (id, source_id, title, description, location, start_at, end_at, tz,
		                    all_day, color, label, recurrence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			tz = excluded.tz,
			all_day = excluded.all_day,
			color = excluded.color,
			label = excluded.label,
			recurrence = excluded.recurrence,
			updated_at = excluded.updated_at`,
		ev.ID, ev.SourceID, ev.Title, ev.Description, ev.Location,
		ev.Start.UTC().Format(timeLayout), ev.End.UTC().Format(timeLayout), zoneName(ev.Start),
		ev.AllDay, string(color), ev.Label, rule, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return deleteRow(ctx, s.db, "events", id)
}

func (s *Store) ListPayments(ctx context.Context) ([]model.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, amount_cents, currency, due_at, tz, paid, label, recurrence
		FROM payments
		ORDER BY due_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var (
			p       model.Payment
			due, tz string
			rule    sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.AmountCents, &p.Currency, &due, &tz,
			&p.Paid, &p.Label, &rule); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.DueDate, err = parseTime(due, location(tz)); err != nil {
			return nil, fmt.Errorf("payment %s due: %w", p.ID, err)
		}
		if p.Recurrence, err = decodeRule(rule); err != nil {
			return nil, fmt.Errorf("payment %s recurrence: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SavePayment(ctx context.Context, p model.Payment) error {
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, q queryer, p model.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	rule, err := encodeRule(p.Recurrence)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO payments (id, title, amount_cents, currency, due_at, tz, paid, label,
		                      recurrence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			amount_cents = excluded.amount_cents,
			currency = excluded.currency,
			due_at = excluded.due_at,
			tz = excluded.tz,
			paid = excluded.paid,
			label = excluded.label,
			recurrence = excluded.recurrence,
			updated_at = excluded.updated_at`,
		p.ID, p.Title, p.AmountCents, p.Currency, p.DueDate.UTC().Format(timeLayout),
		zoneName(p.DueDate), p.Paid, p.Label, rule, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	return deleteRow(ctx, s.db, "payments", id)
}

// deleteRow only receives table names from this package.
func deleteRow(ctx context.Context, q queryer, table, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func encodeRule(r *model.RecurrenceRule) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode recurrence: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeRule(s sql.NullString) (*model.RecurrenceRule, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var r model.RecurrenceRule
	if err := json.Unmarshal([]byte(s.String), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// zoneName is what the tz column stores for t. Zones that cannot be loaded
// by name, such as time.FixedZone, are written as "name@offsetSeconds".
func zoneName(t time.Time) string {
	loc := t.Location()
	if loc == time.UTC || loc == time.Local {
		return loc.String()
	}
	if _, err := time.LoadLocation(loc.String()); err == nil {
		return loc.String()
	}
	name, offset := t.Zone()
	if n := loc.String(); n != "" {
		name = n
	}
	return name + "@" + strconv.Itoa(offset)
}

// location falls back to UTC for zone names this host does not know.
func location(name string) *time.Location {
	if i := strings.LastIndexByte(name, '@'); i >= 0 {
		if offset, err := strconv.Atoi(name[i+1:]); err == nil {
			return time.FixedZone(name[:i], offset)
		}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("unknown stored timezone; using UTC", "tz", name)
		return time.UTC
	}
	return loc
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
