package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"bus-scheduler/internal/clock"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
)

const instanceColumns = `id, organization_id, route_id, bus_id, template_id,
  departure_at, arrival_at, departure_location, arrival_location, stops,
  price, available_seats, booked_seats, status, is_active, trip_status,
  status_changed_at, flagged_at, created_by, created_at, updated_at`

const insertInstance = `INSERT INTO schedule_instances (` + instanceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

// The merge only touches active instances nobody has booked. A moved
// departure drops the attention flag. xmax is 0 only on a fresh insert.
const upsertInstance = insertInstance + `
ON CONFLICT (id) DO UPDATE SET
  price              = EXCLUDED.price,
  departure_at       = EXCLUDED.departure_at,
  arrival_at         = EXCLUDED.arrival_at,
  departure_location = EXCLUDED.departure_location,
  arrival_location   = EXCLUDED.arrival_location,
  stops              = EXCLUDED.stops,
  flagged_at         = CASE WHEN schedule_instances.departure_at = EXCLUDED.departure_at
                            THEN schedule_instances.flagged_at END,
  updated_at         = EXCLUDED.updated_at
WHERE schedule_instances.status = 'active' AND cardinality(schedule_instances.booked_seats) = 0
RETURNING (xmax = 0)`

func instanceArgs(in schedule.Instance) []any {
	var flagged any
	if in.FlaggedAt != nil {
		flagged = *in.FlaggedAt
	}
	return []any{
		in.ID, in.OrganizationID, in.RouteID, in.BusID, in.TemplateID,
		in.DepartureAt, in.ArrivalAt, in.DepartureLocation, in.ArrivalLocation, nonNil(in.Stops),
		in.Price, in.AvailableSeats, nonNil(in.BookedSeats), string(in.Status), in.IsActive, string(in.TripStatus),
		in.StatusChangedAt, flagged, in.CreatedBy, in.CreatedAt, in.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) CreateInstance(ctx context.Context, in schedule.Instance) error {
	_, err := s.db.ExecContext(ctx, insertInstance, instanceArgs(in)...)
	if isUniqueViolation(err) {
		return &schedule.ConflictError{ID: in.ID, Reason: "instance already exists"}
	}
	return classify("insert instance", err)
}

// UpsertInstances writes the batch in one transaction so a failure leaves
// none of it behind.
func (s *Store) UpsertInstances(ctx context.Context, batch []schedule.Instance) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertInstance)
	if err != nil {
		return 0, classify("prepare upsert", err)
	}
	defer stmt.Close()

	created := 0
	for _, in := range batch {
		var inserted bool
		err := stmt.QueryRowContext(ctx, instanceArgs(in)...).Scan(&inserted)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// existing instance left alone by the merge guard
		case err != nil:
			return 0, classify(fmt.Sprintf("upsert instance %s", in.ID), err)
		case inserted:
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit upsert", err)
	}
	return created, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (schedule.Instance, error) {
	q := `SELECT ` + instanceColumns + ` FROM schedule_instances WHERE id = $1`
	in, err := s.scanInstance(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Instance{}, &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	if err != nil {
		return schedule.Instance{}, classify("get instance", err)
	}
	return in, nil
}

func (s *Store) ListInstances(ctx context.Context, f store.Filter) ([]schedule.Instance, error) {
	q, args := instanceQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("list instances", err)
	}
	defer rows.Close()
	var out []schedule.Instance
	for rows.Next() {
		in, err := s.scanInstance(rows)
		if err != nil {
			return nil, classify("scan instance", err)
		}
		out = append(out, in)
	}
	return out, classify("list instances", rows.Err())
}

// instanceQuery renders f as a SELECT ordered like the in-memory store.
func instanceQuery(f store.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OrganizationID != "" {
		add("organization_id = $%d", f.OrganizationID)
	}
	if f.TemplateID != "" {
		add("template_id = $%d", f.TemplateID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if !f.DepartureAfter.IsZero() {
		add("departure_at >= $%d", f.DepartureAfter)
	}
	if !f.DepartureBefore.IsZero() {
		add("departure_at < $%d", f.DepartureBefore)
	}

	var b strings.Builder
	b.WriteString("SELECT " + instanceColumns + " FROM schedule_instances")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY departure_at, id")
	return b.String(), args
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from []schedule.Status, to schedule.Status, at time.Time) (bool, error) {
	fromArg := make([]string, len(from))
	for i, st := range from {
		fromArg[i] = string(st)
	}
	q := `
UPDATE schedule_instances
SET status = $2, is_active = $3, status_changed_at = $4, updated_at = $4, flagged_at = NULL
WHERE id = $1 AND status = ANY($5)`
	res, err := s.db.ExecContext(ctx, q, id, string(to), to == schedule.StatusActive, at, fromArg)
	if err != nil {
		return false, classify("transition status", err)
	}
	return s.guarded(ctx, res, id)
}

func (s *Store) FlagInstance(ctx context.Context, id string, at time.Time) (bool, error) {
	q := `
UPDATE schedule_instances SET flagged_at = $2
WHERE id = $1 AND flagged_at IS NULL AND status = 'active'`
	res, err := s.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return false, classify("flag instance", err)
	}
	return s.guarded(ctx, res, id)
}

func (s *Store) UnflagInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedule_instances SET flagged_at = NULL WHERE id = $1`, id)
	if err != nil {
		return classify("unflag instance", err)
	}
	return expectRow(res, "instance", id)
}

// guarded turns a conditional update's row count into (applied, error),
// telling a failed guard apart from a missing instance.
func (s *Store) guarded(ctx context.Context, res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("rows affected", err)
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM schedule_instances WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	return false, classify("check instance", err)
}

func (s *Store) scanInstance(row rowScanner) (schedule.Instance, error) {
	var (
		in                 schedule.Instance
		status, tripStatus string
		flagged            pgtype.Timestamptz
	)
	err := row.Scan(
		&in.ID, &in.OrganizationID, &in.RouteID, &in.BusID, &in.TemplateID,
		&in.DepartureAt, &in.ArrivalAt, &in.DepartureLocation, &in.ArrivalLocation, s.typeMap.SQLScanner(&in.Stops),
		&in.Price, &in.AvailableSeats, s.typeMap.SQLScanner(&in.BookedSeats), &status, &in.IsActive, &tripStatus,
		&in.StatusChangedAt, &flagged, &in.CreatedBy, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return schedule.Instance{}, err
	}
	in.Status = schedule.Status(status)
	in.TripStatus = schedule.TripStatus(tripStatus)
	if flagged.Valid {
		t, err := clock.ToTime(flagged)
		if err != nil {
			return schedule.Instance{}, fmt.Errorf("instance %s flagged_at: %w", in.ID, err)
		}
		in.FlaggedAt = &t
	}
	if in.BookedSeats == nil {
		in.BookedSeats = []string{}
	}
	return in, nil
}
