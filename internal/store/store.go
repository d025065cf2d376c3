// Package store is the Postgres persistence layer: the staging table
// for raw breadcrumbs, the trip registry, the final speed table and
// the dead-letter table for unmatched trip updates.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"breadcrumb-pipeline/internal/model"
	"breadcrumb-pipeline/internal/speed"
)

// insertChunk bounds the number of rows per multi-row INSERT so the
// parameter count stays well under the Postgres protocol limit.
const insertChunk = 500

func Open(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Persist runs the two-phase write for one detached batch: stage the
// repaired raw rows, register new trips, read the full staging table
// back in (trip, timestamp) order, derive speeds, upsert them into the
// final table and clear staging. Returns the number of speed rows
// written.
//
// The steps are not wrapped in a cross-table transaction. A failure
// abandons the flush and leaves staging intact; the next cycle re-reads
// and re-derives whatever remains, and the final-table upsert keyed on
// (trip_id, tstamp) makes that reprocessing idempotent.
func (s *Store) Persist(ctx context.Context, crumbs []model.Breadcrumb) (int, error) {
	if len(crumbs) > 0 {
		if err := s.InsertStaging(ctx, crumbs); err != nil {
			return 0, fmt.Errorf("stage batch: %w", err)
		}
	}
	if err := s.RegisterTrips(ctx); err != nil {
		return 0, fmt.Errorf("register trips: %w", err)
	}
	staged, err := s.ReadStaging(ctx)
	if err != nil {
		return 0, fmt.Errorf("read staging: %w", err)
	}
	if len(staged) == 0 {
		return 0, nil
	}
	recs := speed.Derive(staged)
	if err := s.InsertSpeeds(ctx, recs); err != nil {
		return 0, fmt.Errorf("insert speeds: %w", err)
	}
	if err := s.TruncateStaging(ctx); err != nil {
		return 0, fmt.Errorf("truncate staging: %w", err)
	}
	return len(recs), nil
}

// InsertStaging bulk-inserts raw breadcrumbs into the staging table.
func (s *Store) InsertStaging(ctx context.Context, crumbs []model.Breadcrumb) error {
	for start := 0; start < len(crumbs); start += insertChunk {
		end := start + insertChunk
		if end > len(crumbs) {
			end = len(crumbs)
		}
		chunk := crumbs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO tempbreadcrumbs
(event_no_trip, event_no_stop, vehicle_id, meters, gps_longitude, gps_latitude, tstamp) VALUES `)
		args := make([]any, 0, len(chunk)*7)
		for i, c := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			base := i * 7
			fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7)
			args = append(args, c.EventNoTrip, c.EventNoStop, c.VehicleID,
				c.Meters, c.Longitude, c.Latitude, c.Timestamp)
		}
		if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// RegisterTrips inserts any (trip_id, vehicle_id) pair present in
// staging but missing from the trip table. Trips already enriched or
// registered by a previous cycle are left untouched.
func (s *Store) RegisterTrips(ctx context.Context) error {
	q := `INSERT INTO trip (trip_id, vehicle_id)
SELECT event_no_trip, vehicle_id FROM tempbreadcrumbs
GROUP BY event_no_trip, vehicle_id
ON CONFLICT (trip_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// ReadStaging returns the full staging contents ordered by trip and
// timestamp, the order the speed derivation expects.
func (s *Store) ReadStaging(ctx context.Context) ([]model.Breadcrumb, error) {
	q := `SELECT event_no_trip, event_no_stop, vehicle_id, meters, gps_longitude, gps_latitude, tstamp
FROM tempbreadcrumbs ORDER BY event_no_trip, tstamp ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crumbs []model.Breadcrumb
	for rows.Next() {
		var c model.Breadcrumb
		if err := rows.Scan(&c.EventNoTrip, &c.EventNoStop, &c.VehicleID,
			&c.Meters, &c.Longitude, &c.Latitude, &c.Timestamp); err != nil {
			return nil, err
		}
		crumbs = append(crumbs, c)
	}
	return crumbs, rows.Err()
}

// InsertSpeeds upserts derived records into the final table. The
// (trip_id, tstamp) conflict target makes duplicate reprocessing of
// staged rows a no-op instead of a double insert.
func (s *Store) InsertSpeeds(ctx context.Context, recs []model.TripSpeed) error {
	for start := 0; start < len(recs); start += insertChunk {
		end := start + insertChunk
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO breadcrumb (trip_id, longitude, latitude, tstamp, speed) VALUES `)
		args := make([]any, 0, len(chunk)*5)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			base := i * 5
			fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5)
			args = append(args, r.TripID, r.Longitude, r.Latitude, r.Timestamp, r.Speed)
		}
		sb.WriteString(" ON CONFLICT (trip_id, tstamp) DO NOTHING")
		if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// TruncateStaging clears the staging table after a successful
// derivation cycle.
func (s *Store) TruncateStaging(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE TABLE tempbreadcrumbs`)
	return err
}

// ApplyTripUpdate attempts to enrich an existing trip row with route,
// service key and direction. Returns false when no trip row matched.
func (s *Store) ApplyTripUpdate(ctx context.Context, u model.TripUpdate) (bool, error) {
	q := `UPDATE trip SET route_id = $1, service_key = $2, direction = $3 WHERE trip_id = $4`
	res, err := s.db.ExecContext(ctx, q, u.RouteID, string(u.ServiceKey), string(u.Direction), u.TripID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertDeadLetter records a trip update that matched no trip row, so
// it can be reconciled once the persister has created the trip.
func (s *Store) InsertDeadLetter(ctx context.Context, u model.TripUpdate) error {
	q := `INSERT INTO errortripupdates (trip_id, route_id, service_key, direction)
VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, q, u.TripID, u.RouteID, string(u.ServiceKey), string(u.Direction))
	return err
}
