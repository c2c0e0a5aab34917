package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/chairmatch/internal/models"
)

// Dispatcher receives assignments after they are committed. The engine treats
// dispatch as best-effort: a failure is logged and counted, never unwinds the
// commit.
type Dispatcher interface {
	Publish(ctx context.Context, a models.Assignment) error
}

type assignmentEvent struct {
	models.Assignment
	MatchedAt time.Time `json:"matched_at"`
}

// KafkaDispatcher publishes committed assignments onto a topic consumed by
// the notification collaborator that tells each chair where to go.
type KafkaDispatcher struct {
	writer *kafka.Writer
}

func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaDispatcher{writer: w}
}

// Publish writes one assignment keyed by chair ID.
func (d *KafkaDispatcher) Publish(ctx context.Context, a models.Assignment) error {
	b, err := json.Marshal(assignmentEvent{Assignment: a, MatchedAt: time.Now()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.writer.WriteMessages(ctx, kafka.Message{Key: []byte(a.ChairID), Value: b})
}

func (d *KafkaDispatcher) Close() error {
	if d.writer == nil {
		return nil
	}
	return d.writer.Close()
}

// NopDispatcher drops assignments. It stands in when no brokers are
// configured, such as local runs against the in-memory store.
type NopDispatcher struct{}

func (NopDispatcher) Publish(ctx context.Context, a models.Assignment) error { return nil }
