package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"bus-scheduler/internal/clock"
	"bus-scheduler/internal/schedule"
)

const templateColumns = `id, organization_id, route_id, bus_id, departure_time, arrival_time,
  days_of_week, valid_from, valid_until, price, available_seats, is_active, status,
  created_by, created_at, updated_at`

func (s *Store) CreateTemplate(ctx context.Context, t schedule.Template) error {
	q := `INSERT INTO schedule_templates (` + templateColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := s.db.ExecContext(ctx, q,
		t.ID, t.OrganizationID, t.RouteID, t.BusID,
		t.DepartureTime.String(), t.ArrivalTime.String(),
		daysArg(t.DaysOfWeek), dateArg(t.ValidFrom), nullableDate(t.ValidUntil),
		t.Price, t.AvailableSeats, t.IsActive, string(t.Status),
		t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return &schedule.ConflictError{ID: t.ID, Reason: "template already exists"}
	}
	return classify("insert template", err)
}

func (s *Store) UpdateTemplate(ctx context.Context, t schedule.Template) error {
	q := `
UPDATE schedule_templates SET
  route_id = $3, bus_id = $4, departure_time = $5, arrival_time = $6,
  days_of_week = $7, valid_from = $8, valid_until = $9, price = $10,
  available_seats = $11, is_active = $12, status = $13, updated_at = $14
WHERE id = $1 AND organization_id = $2`
	res, err := s.db.ExecContext(ctx, q,
		t.ID, t.OrganizationID, t.RouteID, t.BusID,
		t.DepartureTime.String(), t.ArrivalTime.String(),
		daysArg(t.DaysOfWeek), dateArg(t.ValidFrom), nullableDate(t.ValidUntil),
		t.Price, t.AvailableSeats, t.IsActive, string(t.Status), t.UpdatedAt,
	)
	if err != nil {
		return classify("update template", err)
	}
	return expectRow(res, "template", t.ID)
}

func (s *Store) DeleteTemplate(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule_templates WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return classify("delete template", err)
	}
	return expectRow(res, "template", id)
}

func (s *Store) GetTemplate(ctx context.Context, orgID, id string) (schedule.Template, error) {
	q := `SELECT ` + templateColumns + ` FROM schedule_templates WHERE id = $1 AND organization_id = $2`
	t, err := s.scanTemplate(s.db.QueryRowContext(ctx, q, id, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Template{}, &schedule.NotFoundError{Kind: "template", ID: id}
	}
	if err != nil {
		return schedule.Template{}, classify("get template", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, orgID string, activeOnly bool) ([]schedule.Template, error) {
	q := `SELECT ` + templateColumns + ` FROM schedule_templates
WHERE organization_id = $1 AND (NOT $2::boolean OR is_active)
ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, orgID, activeOnly)
	if err != nil {
		return nil, classify("list templates", err)
	}
	defer rows.Close()
	var out []schedule.Template
	for rows.Next() {
		t, err := s.scanTemplate(rows)
		if err != nil {
			return nil, classify("scan template", err)
		}
		out = append(out, t)
	}
	return out, classify("list templates", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTemplate(row rowScanner) (schedule.Template, error) {
	var (
		t           schedule.Template
		dep, arr    string
		days        []int32
		from, until pgtype.Date
		status      string
	)
	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.RouteID, &t.BusID, &dep, &arr,
		s.typeMap.SQLScanner(&days), &from, &until,
		&t.Price, &t.AvailableSeats, &t.IsActive, &status,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return schedule.Template{}, err
	}
	if t.DepartureTime, err = schedule.ParseTimeOfDay(dep); err != nil {
		return schedule.Template{}, fmt.Errorf("template %s: %w", t.ID, err)
	}
	if t.ArrivalTime, err = schedule.ParseTimeOfDay(arr); err != nil {
		return schedule.Template{}, fmt.Errorf("template %s: %w", t.ID, err)
	}
	if t.ValidFrom, err = clock.ToTime(from); err != nil {
		return schedule.Template{}, fmt.Errorf("template %s valid_from: %w", t.ID, err)
	}
	if until.Valid {
		v, err := clock.ToTime(until)
		if err != nil {
			return schedule.Template{}, fmt.Errorf("template %s valid_until: %w", t.ID, err)
		}
		t.ValidUntil = &v
	}
	t.DaysOfWeek = make(schedule.DaysOfWeek, len(days))
	for i, d := range days {
		t.DaysOfWeek[i] = int(d)
	}
	t.Status = schedule.TemplateStatus(status)
	return t, nil
}

func daysArg(d schedule.DaysOfWeek) []int32 {
	out := make([]int32, len(d))
	for i, v := range d {
		out[i] = int32(v)
	}
	return out
}

// dateArg drops the clock and zone so the date column keeps the calendar
// day the caller meant.
func dateArg(t time.Time) string { return t.Format(time.DateOnly) }

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dateArg(*t)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if n == 0 {
		return &schedule.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// Organizations lists every organization that owns at least one active template.
func (s *Store) Organizations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT organization_id FROM schedule_templates WHERE is_active ORDER BY organization_id`)
	if err != nil {
		return nil, classify("list organizations", err)
	}
	defer rows.Close()
	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, classify("scan organization", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, classify("list organizations", rows.Err())
}
