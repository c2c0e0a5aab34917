package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/chairmatch/internal/models"
)

// MemoryStore keeps the whole world in process memory. It backs tests and
// dependency-free local runs of the engine; semantics mirror PostgresStore,
// including the guarded assignment.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    []*models.Ride
	chairs   []models.Chair
	statuses map[string][]models.RideStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string][]models.RideStatus)}
}

func (m *MemoryStore) UnmatchedRides(ctx context.Context) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Ride
	for _, r := range m.rides {
		if r.ChairID == nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ActiveChairs(ctx context.Context) ([]models.Chair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Chair
	for _, c := range m.chairs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) BusyChairIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, r := range m.rides {
		if r.ChairID == nil {
			continue
		}
		if len(m.statuses[r.ID]) >= models.CompletedMilestones {
			continue
		}
		if !seen[*r.ChairID] {
			seen[*r.ChairID] = true
			ids = append(ids, *r.ChairID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) ChairHasUnfinishedRide(ctx context.Context, chairID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rides {
		if r.ChairID != nil && *r.ChairID == chairID && len(m.statuses[r.ID]) < models.CompletedMilestones {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) AssignChairToRide(ctx context.Context, rideID, chairID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rides {
		if r.ID != rideID {
			continue
		}
		if r.ChairID != nil {
			return false, nil
		}
		id := chairID
		r.ChairID = &id
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) CreateChair(ctx context.Context, c models.Chair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chairs = append(m.chairs, c)
	return nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride := r
	m.rides = append(m.rides, &ride)
	return nil
}

func (m *MemoryStore) AppendRideStatus(ctx context.Context, s models.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[s.RideID] = append(m.statuses[s.RideID], s)
	return nil
}

func (m *MemoryStore) UnfinishedAssignedRides(ctx context.Context) ([]models.RideProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RideProgress
	for _, r := range m.rides {
		if r.ChairID == nil {
			continue
		}
		n := len(m.statuses[r.ID])
		if n < models.CompletedMilestones {
			out = append(out, models.RideProgress{RideID: r.ID, ChairID: *r.ChairID, Milestones: n})
		}
	}
	return out, nil
}

// RideChair reports the chair currently assigned to a ride, for assertions.
func (m *MemoryStore) RideChair(rideID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rides {
		if r.ID == rideID {
			if r.ChairID == nil {
				return "", false
			}
			return *r.ChairID, true
		}
	}
	return "", false
}
