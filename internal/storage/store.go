package storage

import (
	"context"

	"github.com/example/chairmatch/internal/models"
)

// Store is the authoritative source for rides, chairs and status trails. The
// engine re-reads current state every cycle and never caches any of it; its
// only write is the guarded chair assignment on a ride.
type Store interface {
	// UnmatchedRides returns every ride with no chair assigned, oldest
	// first. An empty backlog is a normal result, not an error.
	UnmatchedRides(ctx context.Context) ([]models.Ride, error)

	// ActiveChairs returns every chair whose operator has opted in to
	// receive rides, busy or not.
	ActiveChairs(ctx context.Context) ([]models.Chair, error)

	// BusyChairIDs returns the chairs that have at least one assigned ride
	// with fewer than the full six recorded status milestones, computed in
	// one aggregate pass over the fleet. An assigned ride with no recorded
	// milestones at all counts as unfinished.
	BusyChairIDs(ctx context.Context) ([]string, error)

	// ChairHasUnfinishedRide is the per-chair form of BusyChairIDs, used by
	// the inspection endpoint rather than the matching cycle.
	ChairHasUnfinishedRide(ctx context.Context, chairID string) (bool, error)

	// AssignChairToRide links a chair to a ride only if the ride is still
	// unassigned at write time. It returns false with no error when zero
	// rows changed, meaning the ride was claimed elsewhere; repeating the
	// call for an already-assigned ride is a no-op reporting false.
	AssignChairToRide(ctx context.Context, rideID, chairID string) (bool, error)
}
