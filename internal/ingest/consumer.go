package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/chairmatch/internal/geo"
	"github.com/example/chairmatch/internal/models"
	"github.com/example/chairmatch/internal/observability"
)

// MessageReader is the subset of kafka.Reader the consume loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Mirror receives accepted position samples for out-of-process readers.
type Mirror interface {
	Store(ctx context.Context, chairID string, s models.PositionSample) error
}

// Consumer drains the location stream into the in-process position cache.
// It runs inside the engine binary; the cache it feeds is the one the
// matcher reads, so there is no separate consumer deployment.
type Consumer struct {
	reader MessageReader
	cache  *geo.PositionCache
	mirror Mirror
	logger *slog.Logger
}

// NewConsumer joins the given consumer group on the locations topic.
// mirror may be nil when no Redis is configured.
func NewConsumer(brokers []string, topic, group string, cache *geo.PositionCache, mirror Mirror, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return &Consumer{reader: r, cache: cache, mirror: mirror, logger: logger}
}

// Run consumes until ctx is canceled. Read errors back off exponentially;
// undecodable messages are dropped and counted, never retried.
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("closing location reader", "error", err)
		}
	}()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("location consumer stopped")
				return
			}
			c.logger.Error("kafka read failed", "error", err, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var ev models.ChairLocationEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		observability.IngestInvalidTotal.Inc()
		c.logger.Warn("dropping undecodable location message", "error", err)
		return
	}
	if ev.ChairID == "" {
		observability.IngestInvalidTotal.Inc()
		c.logger.Warn("dropping location message without chair_id")
		return
	}

	c.cache.Report(ev.ChairID, ev.Coord())
	observability.LocationReportsTotal.WithLabelValues("kafka").Inc()

	if c.mirror == nil {
		return
	}
	sample := models.PositionSample{Coordinate: ev.Coord(), ReportedAt: time.Now()}
	if err := storeWithRetry(ctx, c.mirror, ev.ChairID, sample, 3, 200*time.Millisecond); err != nil {
		c.logger.Warn("position mirror write failed", "chair_id", ev.ChairID, "error", err)
	}
}

// storeWithRetry writes one sample to the mirror with bounded retries and
// doubling delay. Mirror writes are best-effort; callers log and move on.
func storeWithRetry(ctx context.Context, mirror Mirror, chairID string, s models.PositionSample, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = mirror.Store(ctx, chairID, s); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
