// Package events publishes domain events to Kafka for the notification
// tier. Publication is fire-and-forget from the delivery path: a broker
// outage must never fail a message send.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventMessageNew       = "message.new"
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventConversationRead = "conversation.read"
	EventPresenceChanged  = "presence.changed"
)

type Publisher interface {
	Publish(ctx context.Context, event string, key string, payload any) error
	Close() error
}

type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, event, key string, payload any) error {
	b, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
		"at":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error { return p.writer.Close() }

// Nop discards events; used in tests and when Kafka is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
func (Nop) Close() error                                       { return nil }
