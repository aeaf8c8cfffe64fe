package db

import (
	"context"
	"database/sql"
	"errors"

	"bus-scheduler/internal/schedule"
)

// Route reads a route record. Older deployments have no stops column;
// those routes resolve with an empty stop list.
func (s *Store) Route(ctx context.Context, id string) (schedule.Route, error) {
	withStops, err := s.routesHaveStops(ctx)
	if err != nil {
		return schedule.Route{}, classify("introspect routes columns", err)
	}
	var r schedule.Route
	var scanErr error
	if withStops {
		q := `SELECT id, COALESCE(organization_id, ''), COALESCE(origin, ''), COALESCE(destination, ''), COALESCE(stops, '{}')
             FROM routes WHERE id = $1`
		scanErr = s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.OrganizationID, &r.Origin, &r.Destination, s.typeMap.SQLScanner(&r.Stops))
	} else {
		q := `SELECT id, COALESCE(organization_id, ''), COALESCE(origin, ''), COALESCE(destination, '')
             FROM routes WHERE id = $1`
		scanErr = s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.OrganizationID, &r.Origin, &r.Destination)
	}
	if errors.Is(scanErr, sql.ErrNoRows) {
		return schedule.Route{}, &schedule.NotFoundError{Kind: "route", ID: id}
	}
	if scanErr != nil {
		return schedule.Route{}, classify("get route", scanErr)
	}
	return r, nil
}

func (s *Store) Bus(ctx context.Context, id string) (schedule.Bus, error) {
	q := `SELECT id, COALESCE(organization_id, ''), COALESCE(plate_number, ''), capacity FROM buses WHERE id = $1`
	var b schedule.Bus
	err := s.db.QueryRowContext(ctx, q, id).Scan(&b.ID, &b.OrganizationID, &b.PlateNumber, &b.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Bus{}, &schedule.NotFoundError{Kind: "bus", ID: id}
	}
	if err != nil {
		return schedule.Bus{}, classify("get bus", err)
	}
	return b, nil
}

func (s *Store) routesHaveStops(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.routeStops != nil {
		return *s.routeStops, nil
	}
	cols, err := hasColumns(ctx, s.db, "public", "routes", "stops")
	if err != nil {
		return false, err
	}
	v := cols["stops"]
	s.routeStops = &v
	return v, nil
}
