package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives memory events
const DefaultTopic = "memento_events"

// KafkaWriter is the subset of kafka.Writer used for publishing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by user ID, so events of one
// user stay ordered within a partition.
type Kafka struct {
	writer KafkaWriter
}

// NewKafka creates a publisher for the given brokers and topic
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, goerr.New("kafka brokers are required")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return &Kafka{writer: writer}, nil
}

// NewKafkaWithWriter wraps an existing writer
func NewKafkaWithWriter(w KafkaWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Emit(ctx context.Context, ev *model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal event", goerr.V("kind", ev.Kind))
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: data,
	}); err != nil {
		return goerr.Wrap(err, "failed to write event to kafka",
			goerr.V("kind", ev.Kind), goerr.V("event_id", ev.ID))
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
