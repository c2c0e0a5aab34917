package geo

import (
	"sync"
	"time"

	"github.com/example/chairmatch/internal/models"
)

// PositionCache holds the last reported position per chair. Reports arrive
// from any number of concurrent writers (HTTP, websocket, stream consumer)
// while the matching cycle reads; each entry is replaced wholesale under the
// lock so a reader sees either the previous sample or the new one, never a
// mix. Entries are never evicted; cardinality is bounded by the chair fleet.
type PositionCache struct {
	mu      sync.RWMutex
	samples map[string]models.PositionSample
}

func NewPositionCache() *PositionCache {
	return &PositionCache{samples: make(map[string]models.PositionSample)}
}

// Report records the latest position for a chair, overwriting any prior
// sample. Last write wins by arrival order; device timestamps are not
// compared, so a late-arriving stale report replaces a newer one.
func (p *PositionCache) Report(chairID string, c models.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples[chairID] = models.PositionSample{Coordinate: c, ReportedAt: time.Now()}
}

// Lookup returns the most recently reported position for a chair, or false if
// no report has ever arrived for it.
func (p *PositionCache) Lookup(chairID string) (models.PositionSample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.samples[chairID]
	return s, ok
}

// Len reports how many chairs have ever reported a position.
func (p *PositionCache) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.samples)
}

// Manhattan returns |Δlatitude| + |Δlongitude| between two grid positions.
func Manhattan(a, b models.Coordinate) int {
	return absDiffInt(a.Latitude, b.Latitude) + absDiffInt(a.Longitude, b.Longitude)
}

func absDiffInt(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
