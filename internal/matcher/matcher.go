package matcher

import (
	"slices"

	"github.com/example/chairmatch/internal/geo"
	"github.com/example/chairmatch/internal/models"
)

// Positions is the slice of the position cache the assigner reads.
type Positions interface {
	Lookup(chairID string) (models.PositionSample, bool)
}

// Service pairs waiting rides with free chairs. It holds no per-cycle state;
// every call to Assign works purely on its arguments and the position cache.
type Service struct {
	Positions Positions
}

// Assign walks the ride backlog in the order given (oldest first) and picks
// one chair per ride from the free set. Selection semantics, exactly:
//
//   - a chair with no cached position becomes the candidate only while no
//     candidate exists yet ("first available" fallback for chairs that are
//     active but have never reported);
//   - a chair with a cached position always displaces a position-less
//     candidate;
//   - among positioned chairs, a strictly smaller Manhattan distance to the
//     ride's pickup wins; on equal distance the earlier-scanned chair keeps
//     the slot.
//
// A chosen chair leaves the free set for the rest of the call, so every chair
// and every ride appears at most once in the result. Rides that find no chair
// are simply absent from the result and come back next cycle.
func (s *Service) Assign(rides []models.Ride, free []models.Chair) []models.Assignment {
	pool := slices.Clone(free)

	var pairs []models.Assignment
	for _, ride := range rides {
		if len(pool) == 0 {
			break
		}

		bestIdx := -1
		bestDist := -1
		for i, chair := range pool {
			sample, ok := s.Positions.Lookup(chair.ID)
			if !ok {
				if bestIdx == -1 {
					bestIdx = i
				}
				continue
			}

			dist := geo.Manhattan(ride.Pickup, sample.Coordinate)
			if bestDist == -1 || dist < bestDist {
				bestIdx = i
				bestDist = dist
			}
		}

		if bestIdx == -1 {
			continue
		}
		pairs = append(pairs, models.Assignment{
			RideID:   ride.ID,
			ChairID:  pool[bestIdx].ID,
			Distance: bestDist,
		})
		pool = removeIndex(pool, bestIdx)
	}
	return pairs
}

func removeIndex[T any](s []T, i int) []T {
	if i < 0 || i >= len(s) {
		return s
	}
	return append(s[:i], s[i+1:]...)
}
