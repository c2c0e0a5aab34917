package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"github.com/example/chairmatch/internal/ingest"
	"github.com/example/chairmatch/internal/logging"
	"github.com/example/chairmatch/internal/models"
	"github.com/example/chairmatch/internal/storage"
)

var chairModels = []string{"standard", "luxe", "sport", "compact"}

// The simulator plays the rest of the platform: it registers a chair fleet,
// files ride requests, streams chair movement, and records lifecycle
// milestones for assigned rides so chairs become free again.
func main() {
	_ = godotenv.Load()

	var (
		chairs       = flag.Int("chairs", 20, "number of chairs to register")
		rides        = flag.Int("rides", 100, "total rides to request before stopping intake")
		rideInterval = flag.Duration("ride-interval", 500*time.Millisecond, "time between ride requests")
		tick         = flag.Duration("tick", time.Second, "movement and lifecycle tick")
		grid         = flag.Int("grid", 300, "coordinate bound of the service area")
		httpBase     = flag.String("http", "http://localhost:8080", "engine base URL for location reports")
		kafkaCSV     = flag.String("kafka", "", "kafka brokers; when set, locations go to kafka instead of http")
		topic        = flag.String("topic", "chair-locations", "kafka locations topic")
		dsn          = flag.String("pg", "", "postgres dsn (defaults to PG_DSN)")
		seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	)
	flag.Parse()

	logger := logging.NewLogger("info")

	if *dsn == "" {
		*dsn = os.Getenv("PG_DSN")
	}
	if *dsn == "" {
		logger.Error("no postgres dsn, set -pg or PG_DSN")
		os.Exit(1)
	}
	store, err := storage.NewPostgresStore(*dsn)
	if err != nil {
		logger.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(*seed))

	report := httpReporter(*httpBase)
	if *kafkaCSV != "" {
		producer := ingest.NewProducer(splitCSV(*kafkaCSV), *topic)
		defer producer.Close()
		report = producer.PublishLocation
	}

	positions := make(map[string]models.Coordinate, *chairs)
	for i := 0; i < *chairs; i++ {
		c := models.Chair{
			ID:       ulid.Make().String(),
			Name:     fmt.Sprintf("sim-%03d", i),
			Model:    chairModels[rng.Intn(len(chairModels))],
			IsActive: true,
		}
		if err := store.CreateChair(ctx, c); err != nil {
			logger.Error("chair registration failed", "error", err)
			os.Exit(1)
		}
		positions[c.ID] = randomCoord(rng, *grid)
	}
	logger.Info("fleet registered", "chairs", *chairs)

	moveTicker := time.NewTicker(*tick)
	defer moveTicker.Stop()
	rideTicker := time.NewTicker(*rideInterval)
	defer rideTicker.Stop()

	created := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("simulator stopped", "rides_created", created)
			return

		case <-rideTicker.C:
			if created >= *rides {
				continue
			}
			if err := createRide(ctx, store, rng, *grid); err != nil {
				logger.Warn("ride request failed", "error", err)
				continue
			}
			created++

		case <-moveTicker.C:
			for id, pos := range positions {
				pos = step(rng, pos, *grid)
				positions[id] = pos
				ev := models.ChairLocationEvent{
					ChairID:    id,
					Latitude:   pos.Latitude,
					Longitude:  pos.Longitude,
					RecordedAt: time.Now(),
				}
				if err := report(ev); err != nil {
					logger.Warn("location report failed", "chair_id", id, "error", err)
				}
			}
			if err := advanceRides(ctx, store); err != nil {
				logger.Warn("lifecycle advance failed", "error", err)
			}
		}
	}
}

func createRide(ctx context.Context, store *storage.PostgresStore, rng *rand.Rand, grid int) error {
	r := models.Ride{
		ID:        ulid.Make().String(),
		Pickup:    randomCoord(rng, grid),
		CreatedAt: time.Now(),
	}
	if err := store.CreateRide(ctx, r); err != nil {
		return err
	}
	return store.AppendRideStatus(ctx, models.RideStatus{
		ID:        ulid.Make().String(),
		RideID:    r.ID,
		Status:    models.StatusMatching,
		CreatedAt: time.Now(),
	})
}

// advanceRides records the next milestone for every assigned ride that still
// has some left, one per tick, so chairs drain back into the free pool.
func advanceRides(ctx context.Context, store *storage.PostgresStore) error {
	progress, err := store.UnfinishedAssignedRides(ctx)
	if err != nil {
		return err
	}
	for _, p := range progress {
		if p.Milestones >= len(models.StatusSequence) {
			continue
		}
		st := models.RideStatus{
			ID:        ulid.Make().String(),
			RideID:    p.RideID,
			Status:    models.StatusSequence[p.Milestones],
			CreatedAt: time.Now(),
		}
		if err := store.AppendRideStatus(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func httpReporter(base string) func(models.ChairLocationEvent) error {
	client := &http.Client{Timeout: 2 * time.Second}
	url := strings.TrimRight(base, "/") + "/internal/chair/locations"
	return func(ev models.ChairLocationEvent) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(b))
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}

func randomCoord(rng *rand.Rand, grid int) models.Coordinate {
	return models.Coordinate{Latitude: rng.Intn(grid + 1), Longitude: rng.Intn(grid + 1)}
}

// step moves one unit per axis at most, clamped to the service area.
func step(rng *rand.Rand, c models.Coordinate, grid int) models.Coordinate {
	c.Latitude = clamp(c.Latitude+rng.Intn(3)-1, 0, grid)
	c.Longitude = clamp(c.Longitude+rng.Intn(3)-1, 0, grid)
	return c
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitCSV(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s := strings.TrimSpace(r); s != "" {
			out = append(out, s)
		}
	}
	return out
}
