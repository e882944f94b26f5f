package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event types published by the grading services.
const (
	EventEssayScored           = "essay.scored"
	EventExamGraded            = "exam.graded"
	EventEvaluationResultAdded = "evaluation.result_added"
)

// Event is the envelope sent over the broker. Source identifies the publishing node.
type Event struct {
	Source  string          `json:"source"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// EventPublisher fans grading events out to other nodes.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
	NodeID() string
}

// EventSubscriber delivers events of one type published by any node.
type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType string, handle func(Event)) error
}

// NATSEvents publishes and consumes events on "<prefix>.<type>" subjects.
type NATSEvents struct {
	conn   *nats.Conn
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewNATSEvents wraps an established NATS connection.
func NewNATSEvents(conn *nats.Conn, prefix string, logger zerolog.Logger) *NATSEvents {
	return &NATSEvents{
		conn:   conn,
		prefix: strings.Trim(prefix, "."),
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "nats_events").Logger(),
	}
}

// NodeID identifies this process in published envelopes.
func (n *NATSEvents) NodeID() string {
	return n.nodeID
}

func (n *NATSEvents) subject(eventType string) string {
	if n.prefix == "" {
		return eventType
	}
	return n.prefix + "." + eventType
}

// Publish marshals payload into an envelope and sends it.
func (n *NATSEvents) Publish(_ context.Context, eventType string, payload interface{}) error {
	data, err := encodeEvent(n.nodeID, eventType, payload)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject(eventType), data); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Subscribe registers handle for eventType until ctx is cancelled. Every node receives
// every event; filtering on Source is the handler's job.
func (n *NATSEvents) Subscribe(ctx context.Context, eventType string, handle func(Event)) error {
	sub, err := n.conn.Subscribe(n.subject(eventType), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			n.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("invalid grading event payload")
			return
		}
		handle(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			n.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("failed to drain grading event subscription")
		}
	}()
	return nil
}

func encodeEvent(source, eventType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Event{
		Source:  source,
		Type:    eventType,
		Payload: body,
		SentAt:  time.Now().UTC(),
	})
}

// LocalEvents is an in-process bus used when no broker is configured and in tests.
type LocalEvents struct {
	nodeID string

	mu       sync.RWMutex
	handlers map[string][]func(Event)
	record   bool
	sent     []Event
}

// NewLocalEvents builds an in-process bus that only delivers events to subscribers.
func NewLocalEvents() *LocalEvents {
	return &LocalEvents{
		nodeID:   uuid.NewString(),
		handlers: make(map[string][]func(Event)),
	}
}

// NewRecordingLocalEvents builds an in-process bus that also keeps every delivered event
// for Sent. Retention is unbounded, so it suits tests and short-lived tools only.
func NewRecordingLocalEvents() *LocalEvents {
	l := NewLocalEvents()
	l.record = true
	return l
}

// NodeID identifies this bus in envelopes.
func (l *LocalEvents) NodeID() string {
	return l.nodeID
}

// Publish delivers the event synchronously to subscribers.
func (l *LocalEvents) Publish(_ context.Context, eventType string, payload interface{}) error {
	data, err := encodeEvent(l.nodeID, eventType, payload)
	if err != nil {
		return err
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	l.Deliver(event)
	return nil
}

// Deliver hands an event to subscribers as if it arrived from the broker.
func (l *LocalEvents) Deliver(event Event) {
	l.mu.Lock()
	if l.record {
		l.sent = append(l.sent, event)
	}
	handlers := append([]func(Event){}, l.handlers[event.Type]...)
	l.mu.Unlock()

	for _, handle := range handlers {
		handle(event)
	}
}

// Subscribe registers handle for eventType. ctx is accepted for interface parity.
func (l *LocalEvents) Subscribe(_ context.Context, eventType string, handle func(Event)) error {
	l.mu.Lock()
	l.handlers[eventType] = append(l.handlers[eventType], handle)
	l.mu.Unlock()
	return nil
}

// Sent returns the events delivered so far on a recording bus, and nil otherwise.
func (l *LocalEvents) Sent() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.sent...)
}
