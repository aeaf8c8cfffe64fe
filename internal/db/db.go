// Package db is the Postgres implementation of the scheduler's template
// and instance stores, plus the route and bus lookup against the tables
// the surrounding system owns.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Store implements store.Templates, store.Instances and lookup.Source.
type Store struct {
	db      *sql.DB
	typeMap *pgtype.Map

	mu         sync.Mutex
	routeStops *bool // routes.stops column present; nil until probed
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, typeMap: pgtype.NewMap()}
}

const schema = `
CREATE TABLE IF NOT EXISTS schedule_templates (
  id              text PRIMARY KEY,
  organization_id text NOT NULL,
  route_id        text NOT NULL,
  bus_id          text NOT NULL,
  departure_time  text NOT NULL,
  arrival_time    text NOT NULL,
  days_of_week    int4[] NOT NULL DEFAULT '{}',
  valid_from      date NOT NULL,
  valid_until     date,
  price           double precision NOT NULL,
  available_seats integer NOT NULL,
  is_active       boolean NOT NULL DEFAULT true,
  status          text NOT NULL DEFAULT 'active',
  created_by      text NOT NULL DEFAULT '',
  created_at      timestamptz NOT NULL DEFAULT now(),
  updated_at      timestamptz NOT NULL DEFAULT now(),
  CHECK (valid_until IS NULL OR valid_until >= valid_from)
);
CREATE INDEX IF NOT EXISTS schedule_templates_org_idx ON schedule_templates (organization_id, is_active);

CREATE TABLE IF NOT EXISTS schedule_instances (
  id                 text PRIMARY KEY,
  organization_id    text NOT NULL,
  route_id           text NOT NULL,
  bus_id             text NOT NULL,
  template_id        text NOT NULL DEFAULT '',
  departure_at       timestamptz NOT NULL,
  arrival_at         timestamptz NOT NULL,
  departure_location text NOT NULL DEFAULT '',
  arrival_location   text NOT NULL DEFAULT '',
  stops              text[] NOT NULL DEFAULT '{}',
  price              double precision NOT NULL,
  available_seats    integer NOT NULL,
  booked_seats       text[] NOT NULL DEFAULT '{}',
  status             text NOT NULL DEFAULT 'active',
  is_active          boolean NOT NULL DEFAULT true,
  trip_status        text NOT NULL DEFAULT 'scheduled',
  status_changed_at  timestamptz NOT NULL DEFAULT now(),
  flagged_at         timestamptz,
  created_by         text NOT NULL DEFAULT '',
  created_at         timestamptz NOT NULL DEFAULT now(),
  updated_at         timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS schedule_instances_org_status_idx ON schedule_instances (organization_id, status, departure_at);
CREATE INDEX IF NOT EXISTS schedule_instances_template_idx ON schedule_instances (template_id) WHERE template_id <> '';
`

// EnsureSchema creates the scheduler's own tables when missing. The
// routes and buses tables belong to the surrounding system.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classify("ensure schema", err)
	}
	return nil
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
