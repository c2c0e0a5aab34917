package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/chairmatch/internal/models"
)

// PostgresStore implements Store on a shared relational database. It also
// carries the writer methods the simulator uses to play the external
// collaborators (ride intake, chair registry, lifecycle updates); the engine
// itself never calls those.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Exec runs one raw statement, for the optional dev migration at startup.
func (p *PostgresStore) Exec(ctx context.Context, stmt string) error {
	_, err := p.db.ExecContext(ctx, stmt)
	return err
}

func (p *PostgresStore) UnmatchedRides(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, pickup_latitude, pickup_longitude, created_at
		 FROM rides
		 WHERE chair_id IS NULL
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query unmatched rides: %w", err)
	}
	defer rows.Close()

	var rides []models.Ride
	for rows.Next() {
		var r models.Ride
		if err := rows.Scan(&r.ID, &r.Pickup.Latitude, &r.Pickup.Longitude, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		rides = append(rides, r)
	}
	return rides, rows.Err()
}

func (p *PostgresStore) ActiveChairs(ctx context.Context) ([]models.Chair, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, model, is_active FROM chairs WHERE is_active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query active chairs: %w", err)
	}
	defer rows.Close()

	var chairs []models.Chair
	for rows.Next() {
		var c models.Chair
		if err := rows.Scan(&c.ID, &c.Name, &c.Model, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan chair: %w", err)
		}
		chairs = append(chairs, c)
	}
	return chairs, rows.Err()
}

// BusyChairIDs groups every assigned ride with its recorded milestone count
// in one pass; any ride short of the full trail marks its chair busy. The
// LEFT JOIN keeps rides with no milestones at all in the busy side.
func (p *PostgresStore) BusyChairIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT unfinished.chair_id
		 FROM (
			SELECT r.chair_id
			FROM rides r
			LEFT JOIN ride_statuses rs ON rs.ride_id = r.id
			WHERE r.chair_id IS NOT NULL
			GROUP BY r.chair_id, r.id
			HAVING COUNT(rs.id) < $1
		 ) unfinished`,
		models.CompletedMilestones)
	if err != nil {
		return nil, fmt.Errorf("query busy chairs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan busy chair id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) ChairHasUnfinishedRide(ctx context.Context, chairID string) (bool, error) {
	var busy bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM rides r
			LEFT JOIN ride_statuses rs ON rs.ride_id = r.id
			WHERE r.chair_id = $1
			GROUP BY r.id
			HAVING COUNT(rs.id) < $2
		 )`,
		chairID, models.CompletedMilestones).Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("query chair availability: %w", err)
	}
	return busy, nil
}

func (p *PostgresStore) AssignChairToRide(ctx context.Context, rideID, chairID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET chair_id = $1, updated_at = now() WHERE id = $2 AND chair_id IS NULL`,
		chairID, rideID)
	if err != nil {
		return false, fmt.Errorf("assign chair %s to ride %s: %w", chairID, rideID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign chair %s to ride %s: rows affected: %w", chairID, rideID, err)
	}
	return n == 1, nil
}

// CreateChair registers a chair, simulator-side.
func (p *PostgresStore) CreateChair(ctx context.Context, c models.Chair) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO chairs (id, name, model, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		c.ID, c.Name, c.Model, c.IsActive)
	return err
}

// CreateRide files a new unassigned ride, simulator-side.
func (p *PostgresStore) CreateRide(ctx context.Context, r models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides (id, pickup_latitude, pickup_longitude, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		r.ID, r.Pickup.Latitude, r.Pickup.Longitude, r.CreatedAt)
	return err
}

// AppendRideStatus records one lifecycle milestone, simulator-side.
func (p *PostgresStore) AppendRideStatus(ctx context.Context, s models.RideStatus) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_statuses (id, ride_id, status, created_at)
		 VALUES ($1, $2, $3, $4)`,
		s.ID, s.RideID, s.Status, s.CreatedAt)
	return err
}

// UnfinishedAssignedRides lists assigned rides still short of the full trail
// with their current milestone count, so the simulator can drive them to
// completion.
func (p *PostgresStore) UnfinishedAssignedRides(ctx context.Context) ([]models.RideProgress, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT r.id, r.chair_id, COUNT(rs.id)
		 FROM rides r
		 LEFT JOIN ride_statuses rs ON rs.ride_id = r.id
		 WHERE r.chair_id IS NOT NULL
		 GROUP BY r.id, r.chair_id
		 HAVING COUNT(rs.id) < $1
		 ORDER BY r.created_at`,
		models.CompletedMilestones)
	if err != nil {
		return nil, fmt.Errorf("query unfinished rides: %w", err)
	}
	defer rows.Close()

	var out []models.RideProgress
	for rows.Next() {
		var pr models.RideProgress
		if err := rows.Scan(&pr.RideID, &pr.ChairID, &pr.Milestones); err != nil {
			return nil, fmt.Errorf("scan ride progress: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
