package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Publisher delivers lab events to an integration or audit sink.
// Delivery is best effort: callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the structured log
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Info().
		Str("service", "lab_events").
		Str("event_id", e.ID).
		Str("type", e.Type).
		Str("session_id", e.SessionID).
		RawJSON("payload", payloadOrEmpty(e.Payload)).
		Msg("lab event")
	return nil
}

func payloadOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// StorePublisher persists events to the lab_events table
type StorePublisher struct {
	db *Database
}

// NewStorePublisher creates a publisher backed by gormDB
func NewStorePublisher(gormDB *gorm.DB) *StorePublisher {
	return &StorePublisher{db: NewDatabase(gormDB)}
}

func (p *StorePublisher) Publish(_ context.Context, e Event) error {
	if err := p.db.CreateRecord(recordFromEvent(e)); err != nil {
		return fmt.Errorf("store event %s: %w", e.ID, err)
	}
	return nil
}

// History returns the stored events of a session
func (p *StorePublisher) History(sessionID, owner string, limit int) ([]Event, error) {
	records, err := p.db.ListBySession(sessionID, owner, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, len(records))
	for i, r := range records {
		out[i] = r.Event()
	}
	return out, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher feeds events to a Kafka topic keyed by session
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to topic on brokers. The writer
// is asynchronous: Publish only enqueues, and delivery failures are logged by
// logDelivery once the batch completes.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			Async:                  true,
			Completion:             logDelivery,
		},
		timeout: 5 * time.Second,
	}
}

func logDelivery(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		log.Warn().
			Err(err).
			Str("service", "lab_events").
			Str("session_id", string(m.Key)).
			Str("event_type", eventType(m)).
			Msg("failed to deliver lab event to kafka")
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(e.SessionID),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Multi fans an event out to several publishers. Every publisher is tried;
// failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
