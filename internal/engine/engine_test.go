package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/chairmatch/internal/geo"
	"github.com/example/chairmatch/internal/logging"
	"github.com/example/chairmatch/internal/matcher"
	"github.com/example/chairmatch/internal/models"
	"github.com/example/chairmatch/internal/storage"
)

// hookedStore wraps MemoryStore with injectable failures and call counters.
type hookedStore struct {
	*storage.MemoryStore
	backlogErr   error
	activeErr    error
	busyErr      error
	assignErrFor map[string]error
	beforeAssign func(rideID string)

	backlogCalls int
	activeCalls  int
	assignCalls  int
}

func (h *hookedStore) UnmatchedRides(ctx context.Context) ([]models.Ride, error) {
	h.backlogCalls++
	if h.backlogErr != nil {
		return nil, h.backlogErr
	}
	return h.MemoryStore.UnmatchedRides(ctx)
}

func (h *hookedStore) ActiveChairs(ctx context.Context) ([]models.Chair, error) {
	h.activeCalls++
	if h.activeErr != nil {
		return nil, h.activeErr
	}
	return h.MemoryStore.ActiveChairs(ctx)
}

func (h *hookedStore) BusyChairIDs(ctx context.Context) ([]string, error) {
	if h.busyErr != nil {
		return nil, h.busyErr
	}
	return h.MemoryStore.BusyChairIDs(ctx)
}

func (h *hookedStore) AssignChairToRide(ctx context.Context, rideID, chairID string) (bool, error) {
	h.assignCalls++
	if h.beforeAssign != nil {
		h.beforeAssign(rideID)
	}
	if err := h.assignErrFor[rideID]; err != nil {
		return false, err
	}
	return h.MemoryStore.AssignChairToRide(ctx, rideID, chairID)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.Assignment
	err    error
}

func (d *recordingDispatcher) Publish(ctx context.Context, a models.Assignment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, a)
	return nil
}

type fixture struct {
	store      *hookedStore
	cache      *geo.PositionCache
	dispatcher *recordingDispatcher
	engine     *Engine
}

func newFixture() *fixture {
	store := &hookedStore{MemoryStore: storage.NewMemoryStore()}
	cache := geo.NewPositionCache()
	d := &recordingDispatcher{}
	m := &matcher.Service{Positions: cache}
	return &fixture{
		store:      store,
		cache:      cache,
		dispatcher: d,
		engine:     New(store, m, d, logging.Discard(), 10*time.Millisecond),
	}
}

func (f *fixture) seedChair(t *testing.T, id string, pos models.Coordinate) {
	t.Helper()
	err := f.store.CreateChair(context.Background(), models.Chair{ID: id, Name: id, Model: "standard", IsActive: true})
	if err != nil {
		t.Fatalf("CreateChair(%s): %v", id, err)
	}
	f.cache.Report(id, pos)
}

func (f *fixture) seedRide(t *testing.T, id string, pickup models.Coordinate, createdAt time.Time) {
	t.Helper()
	err := f.store.CreateRide(context.Background(), models.Ride{ID: id, Pickup: pickup, CreatedAt: createdAt})
	if err != nil {
		t.Fatalf("CreateRide(%s): %v", id, err)
	}
}

func (f *fixture) completeRide(t *testing.T, rideID string) {
	t.Helper()
	for i, st := range models.StatusSequence {
		err := f.store.AppendRideStatus(context.Background(), models.RideStatus{
			ID:        rideID + "-" + st,
			RideID:    rideID,
			Status:    st,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("AppendRideStatus(%s, %s): %v", rideID, st, err)
		}
	}
}

func TestRunCycleMatchesNearestAndCommits(t *testing.T) {
	f := newFixture()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.seedRide(t, "r1", models.Coordinate{Latitude: 0, Longitude: 0}, base)
	f.seedRide(t, "r2", models.Coordinate{Latitude: 100, Longitude: 100}, base.Add(time.Second))
	f.seedChair(t, "c-near", models.Coordinate{Latitude: 1, Longitude: 1})
	f.seedChair(t, "c-far", models.Coordinate{Latitude: 90, Longitude: 90})

	stats, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Matched != 2 || stats.Backlog != 2 || stats.FreeChairs != 2 {
		t.Fatalf("stats = %+v, want 2 matched of 2 backlog with 2 free", stats)
	}
	if chair, _ := f.store.RideChair("r1"); chair != "c-near" {
		t.Errorf("r1 assigned %s, want c-near", chair)
	}
	if chair, _ := f.store.RideChair("r2"); chair != "c-far" {
		t.Errorf("r2 assigned %s, want c-far", chair)
	}
	if len(f.dispatcher.events) != 2 {
		t.Errorf("dispatched %d events, want 2", len(f.dispatcher.events))
	}
}

func TestRunCycleEmptyBacklog(t *testing.T) {
	f := newFixture()
	f.seedChair(t, "c1", models.Coordinate{})

	stats, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Backlog != 0 || stats.Matched != 0 {
		t.Fatalf("stats = %+v, want empty cycle", stats)
	}
	if f.store.activeCalls != 0 {
		t.Errorf("chairs were loaded on an empty backlog, %d calls", f.store.activeCalls)
	}
}

func TestRunCycleNoFreeChairs(t *testing.T) {
	f := newFixture()
	f.seedRide(t, "r1", models.Coordinate{}, time.Now())

	stats, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Matched != 0 || stats.FreeChairs != 0 {
		t.Fatalf("stats = %+v, want nothing matched", stats)
	}
	if f.store.assignCalls != 0 {
		t.Errorf("assign was attempted with no free chairs")
	}
}

func TestChairFreedOnlyAfterAllMilestones(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	base := time.Now()
	f.seedChair(t, "c1", models.Coordinate{Latitude: 5, Longitude: 5})
	f.seedRide(t, "r1", models.Coordinate{Latitude: 5, Longitude: 5}, base)

	if _, err := f.engine.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if chair, ok := f.store.RideChair("r1"); !ok || chair != "c1" {
		t.Fatalf("r1 not assigned to c1 after first cycle")
	}

	// c1 is mid-ride, so a new request must wait even though c1 is the
	// only chair around.
	f.seedRide(t, "r2", models.Coordinate{Latitude: 6, Longitude: 5}, base.Add(time.Second))
	stats, err := f.engine.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Matched != 0 {
		t.Fatalf("matched %d while c1 is busy, want 0", stats.Matched)
	}

	f.completeRide(t, "r1")
	stats, err = f.engine.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Matched != 1 {
		t.Fatalf("matched %d after c1 finished, want 1", stats.Matched)
	}
	if chair, _ := f.store.RideChair("r2"); chair != "c1" {
		t.Errorf("r2 assigned %s, want c1", chair)
	}
}

func TestRunCycleReadFailureAborts(t *testing.T) {
	for name, mutate := range map[string]func(*hookedStore){
		"backlog": func(h *hookedStore) { h.backlogErr = errors.New("backlog down") },
		"active":  func(h *hookedStore) { h.activeErr = errors.New("chairs down") },
		"busy":    func(h *hookedStore) { h.busyErr = errors.New("statuses down") },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.seedRide(t, "r1", models.Coordinate{}, time.Now())
			f.seedChair(t, "c1", models.Coordinate{})
			mutate(f.store)

			if _, err := f.engine.RunCycle(context.Background()); err == nil {
				t.Fatal("RunCycle returned nil error with a failing store read")
			}
			if f.store.assignCalls != 0 {
				t.Error("assign was attempted after an aborted cycle")
			}
			if _, ok := f.store.RideChair("r1"); ok {
				t.Error("ride was assigned during an aborted cycle")
			}
		})
	}
}

func TestRunCycleCommitErrorIsolatesPair(t *testing.T) {
	f := newFixture()
	base := time.Now()
	f.seedRide(t, "r1", models.Coordinate{Latitude: 0, Longitude: 0}, base)
	f.seedRide(t, "r2", models.Coordinate{Latitude: 50, Longitude: 50}, base.Add(time.Second))
	f.seedChair(t, "c1", models.Coordinate{Latitude: 0, Longitude: 1})
	f.seedChair(t, "c2", models.Coordinate{Latitude: 50, Longitude: 51})
	f.store.assignErrFor = map[string]error{"r1": errors.New("deadlock")}

	stats, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.CommitErrors != 1 || stats.Matched != 1 {
		t.Fatalf("stats = %+v, want 1 commit error and 1 match", stats)
	}
	if _, ok := f.store.RideChair("r1"); ok {
		t.Error("r1 was assigned despite a failing commit")
	}
	if chair, _ := f.store.RideChair("r2"); chair != "c2" {
		t.Errorf("r2 assigned %s, want c2", chair)
	}
}

func TestRunCycleLostRaceLeavesRideWithWinner(t *testing.T) {
	f := newFixture()
	f.seedRide(t, "r1", models.Coordinate{}, time.Now())
	f.seedChair(t, "c1", models.Coordinate{Latitude: 1, Longitude: 0})
	f.store.beforeAssign = func(rideID string) {
		// A concurrent writer claims the ride between Assign and commit.
		if _, err := f.store.MemoryStore.AssignChairToRide(context.Background(), rideID, "rival"); err != nil {
			t.Errorf("rival assign: %v", err)
		}
	}

	stats, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.LostRaces != 1 || stats.Matched != 0 {
		t.Fatalf("stats = %+v, want 1 lost race and 0 matches", stats)
	}
	if chair, _ := f.store.RideChair("r1"); chair != "rival" {
		t.Errorf("r1 held by %s, want rival", chair)
	}
	if len(f.dispatcher.events) != 0 {
		t.Errorf("dispatched %d events for a lost race, want 0", len(f.dispatcher.events))
	}
}

func TestRunCycleDispatchFailureKeepsCommit(t *testing.T) {
	f := newFixture()
	f.dispatcher.err = errors.New("broker gone")
	f.seedRide(t, "r1", models.Coordinate{}, time.Now())
	f.seedChair(t, "c1", models.Coordinate{Latitude: 1, Longitude: 0})

	stats, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Matched != 1 {
		t.Fatalf("stats = %+v, want 1 match despite dispatch failure", stats)
	}
	if chair, _ := f.store.RideChair("r1"); chair != "c1" {
		t.Errorf("r1 assigned %s, want c1", chair)
	}
}

func TestLastStatsReflectsLatestCycle(t *testing.T) {
	f := newFixture()
	f.seedRide(t, "r1", models.Coordinate{}, time.Now())
	f.seedChair(t, "c1", models.Coordinate{Latitude: 2, Longitude: 0})

	want, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := f.engine.LastStats()
	if got != want {
		t.Fatalf("LastStats = %+v, want %+v", got, want)
	}
	if got.Matched != 1 {
		t.Fatalf("LastStats.Matched = %d, want 1", got.Matched)
	}
}

// blockingStore parks UnmatchedRides until released, to hold a cycle open.
type blockingStore struct {
	*storage.MemoryStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingStore) UnmatchedRides(ctx context.Context) ([]models.Ride, error) {
	b.calls.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return b.MemoryStore.UnmatchedRides(ctx)
}

func TestRunSkipsTicksWhileCycleInFlight(t *testing.T) {
	store := &blockingStore{
		MemoryStore: storage.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	cache := geo.NewPositionCache()
	e := New(store, &matcher.Service{Positions: cache}, nil, logging.Discard(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never started")
	}
	// Plenty of ticks fire while the first cycle is parked; all of them
	// must be skipped.
	time.Sleep(60 * time.Millisecond)
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("store entered %d times while a cycle was in flight, want 1", got)
	}

	close(store.release)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
