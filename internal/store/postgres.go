package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresConfig holds connection settings for the events database.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Postgres is a Store backed by PostgreSQL through sqlx and lib/pq.
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects, applies pool settings and pings the database.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is empty")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	appLog.Info("postgres connected", "max_open_conns", cfg.MaxOpenConns)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the events table and indexes if they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// eventRow is the database shape of model.Event.
type eventRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	Location       string         `db:"location"`
	Color          string         `db:"color"`
	StartTime      time.Time      `db:"start_time"`
	EndTime        time.Time      `db:"end_time"`
	IsRecurring    bool           `db:"is_recurring"`
	RecurrenceRule sql.NullString `db:"recurrence_rule"`
	RecurrenceID   sql.NullString `db:"recurrence_id"`
	ExceptionDates pq.StringArray `db:"exception_dates"`
	Status         string         `db:"status"`
	Source         string         `db:"source"`
}

const eventColumns = `id, user_id, title, description, location, color, start_time, end_time,
	is_recurring, recurrence_rule, recurrence_id, exception_dates, status, source`

func (p *Postgres) Get(ctx context.Context, id string) (model.Event, error) {
	var row eventRow
	err := p.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return row.toEvent(), nil
}

func (p *Postgres) Put(ctx context.Context, ev model.Event) error {
	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES (:id, :user_id, :title, :description, :location, :color, :start_time, :end_time,
			:is_recurring, :recurrence_rule, :recurrence_id, :exception_dates, :status, :source)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			color = EXCLUDED.color,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			is_recurring = EXCLUDED.is_recurring,
			recurrence_rule = EXCLUDED.recurrence_rule,
			recurrence_id = EXCLUDED.recurrence_id,
			exception_dates = EXCLUDED.exception_dates,
			status = EXCLUDED.status,
			source = EXCLUDED.source,
			updated_at = now()`

	if _, err := p.db.NamedExecContext(ctx, query, fromEvent(ev)); err != nil {
		return fmt.Errorf("postgres: put %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, userID string, from, to time.Time) ([]model.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE user_id = $1
		  AND start_time < $3
		  AND (
		        end_time > $2
		     OR (end_time = start_time AND start_time >= $2)
		     OR (is_recurring AND recurrence_rule IS NOT NULL)
		  )
		ORDER BY start_time, id`

	var rows []eventRow
	if err := p.db.SelectContext(ctx, &rows, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", userID, err)
	}

	out := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEvent())
	}
	return out, nil
}

func fromEvent(ev model.Event) eventRow {
	row := eventRow{
		ID:             ev.ID,
		UserID:         ev.UserID,
		Title:          ev.Title,
		Description:    ev.Description,
		Location:       ev.Location,
		Color:          ev.Color,
		StartTime:      ev.Start,
		EndTime:        ev.End,
		IsRecurring:    ev.IsRecurring,
		ExceptionDates: pq.StringArray{},
		Status:         string(ev.Status),
		Source:         string(ev.Source),
	}
	if ev.RecurrenceRule != nil {
		row.RecurrenceRule = sql.NullString{String: *ev.RecurrenceRule, Valid: true}
	}
	if ev.RecurrenceID != nil {
		row.RecurrenceID = sql.NullString{String: *ev.RecurrenceID, Valid: true}
	}
	for _, d := range ev.ExceptionDates {
		row.ExceptionDates = append(row.ExceptionDates, d.String())
	}
	if row.Status == "" {
		row.Status = string(model.StatusConfirmed)
	}
	if row.Source == "" {
		row.Source = string(model.SourceLocal)
	}
	return row
}

func (r eventRow) toEvent() model.Event {
	ev := model.Event{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Color:       r.Color,
		Start:       r.StartTime,
		End:         r.EndTime,
		IsRecurring: r.IsRecurring,
		Status:      model.Status(r.Status),
		Source:      model.Source(r.Source),
	}
	if r.RecurrenceRule.Valid {
		rule := r.RecurrenceRule.String
		ev.RecurrenceRule = &rule
	}
	if r.RecurrenceID.Valid {
		rid := r.RecurrenceID.String
		ev.RecurrenceID = &rid
	}
	for _, s := range r.ExceptionDates {
		d, err := model.ParseDate(s)
		if err != nil {
			appLog.Error("postgres: skipping malformed exception date", err, "id", r.ID, "value", s)
			continue
		}
		ev.ExceptionDates = append(ev.ExceptionDates, d)
	}
	return ev
}
