package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PgStore is the PostgreSQL-backed Store. The detail payload is kept as
// jsonb so operators can query identifiers directly.
type PgStore struct {
	DB *Database
}

func NewPgStore(db *Database) *PgStore { return &PgStore{DB: db} }

// EnsureSchema creates the alerts table when absent.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	const q = `
	CREATE TABLE IF NOT EXISTS alerts (
		id          TEXT PRIMARY KEY,
		rule_id     INTEGER NOT NULL DEFAULT 0,
		rule_name   TEXT,
		icon        TEXT,
		color       TEXT,
		title       TEXT NOT NULL,
		message     TEXT NOT NULL,
		detail      JSONB NOT NULL DEFAULT '{}',
		priority    INTEGER NOT NULL DEFAULT 3,
		origin      TEXT NOT NULL DEFAULT 'automatic',
		status      TEXT NOT NULL DEFAULT 'active',
		dashboard_id INTEGER NOT NULL DEFAULT 0,
		occurred_at  TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved_at  TIMESTAMPTZ,
		archived_at  TIMESTAMPTZ,
		created_by   TEXT,
		resolved_by  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_status_created ON alerts(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_rule_status ON alerts(rule_id, status);
	`
	if _, err := s.DB.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure alerts schema: %w", err)
	}
	return nil
}

func (s *PgStore) Insert(ctx context.Context, a *Alert) error {
	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("encode alert detail: %w", err)
	}
	const q = `
	INSERT INTO alerts(id, rule_id, rule_name, icon, color, title, message, detail,
		priority, origin, status, dashboard_id, occurred_at, created_at, created_by)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12,$13,$14,$15)
	`
	_, err = s.DB.ExecContext(ctx, q, a.ID, a.RuleID, a.RuleName, a.Icon, a.Color,
		a.Title, a.Message, string(detail), a.Priority, a.Origin, a.Status,
		a.DashboardID, a.OccurredAt, a.CreatedAt, a.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

const alertColumns = `id, rule_id, rule_name, icon, color, title, message, detail,
	priority, origin, status, dashboard_id, occurred_at, created_at, resolved_at,
	archived_at, created_by, resolved_by`

func (s *PgStore) Get(ctx context.Context, id string) (*Alert, error) {
	q := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)
	a, err := scanAlert(s.DB.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *PgStore) List(ctx context.Context, filter ListFilter) ([]*Alert, error) {
	q := fmt.Sprintf(`SELECT %s FROM alerts WHERE 1=1`, alertColumns)
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.RuleID != 0 {
		args = append(args, filter.RuleID)
		q += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) ActiveByRule(ctx context.Context, ruleID int) ([]*Alert, error) {
	return s.List(ctx, ListFilter{Status: StatusActive, RuleID: ruleID})
}

func (s *PgStore) Transition(ctx context.Context, id, status, by string, at time.Time) error {
	if status != StatusResolved && status != StatusArchived {
		return fmt.Errorf("%w: -> %s", ErrInvalidTransition, status)
	}
	var q string
	if status == StatusResolved {
		q = `UPDATE alerts SET status=$2, resolved_at=$3, resolved_by=$4 WHERE id=$1 AND status='active'`
	} else {
		q = `UPDATE alerts SET status=$2, archived_at=$3, resolved_by=$4 WHERE id=$1 AND status='active'`
	}
	res, err := s.DB.ExecContext(ctx, q, id, status, at, by)
	if err != nil {
		return fmt.Errorf("transition alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition alert: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: alert %s is not active", ErrInvalidTransition, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var (
		a          Alert
		detail     []byte
		occurredAt sql.NullTime
		resolvedAt sql.NullTime
		archivedAt sql.NullTime
		createdBy  sql.NullString
		resolvedBy sql.NullString
	)
	err := row.Scan(&a.ID, &a.RuleID, &a.RuleName, &a.Icon, &a.Color, &a.Title,
		&a.Message, &detail, &a.Priority, &a.Origin, &a.Status, &a.DashboardID,
		&occurredAt, &a.CreatedAt, &resolvedAt, &archivedAt, &createdBy, &resolvedBy)
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &a.Detail); err != nil {
			return nil, fmt.Errorf("decode alert detail: %w", err)
		}
	}
	if occurredAt.Valid {
		a.OccurredAt = occurredAt.Time
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		a.ArchivedAt = &t
	}
	a.CreatedBy = createdBy.String
	a.ResolvedBy = resolvedBy.String
	return &a, nil
}
