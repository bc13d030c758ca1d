// Package bus publishes envelope lifecycle events to NATS JetStream.
//
// The dispatcher hands it outbox rows; downstream consumers (notification
// senders, webhooks, analytics) subscribe to the event stream. Publishes
// carry the outbox event id as the message id so JetStream deduplicates
// retried deliveries.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// EventsStream is the JetStream stream holding envelope events.
	EventsStream = "INKSEAL_EVENTS"
	// SubjectPrefix is the subject namespace for envelope events.
	SubjectPrefix = "inkseal.event"
)

// Publisher publishes one event payload to a subject.
//
// msgID must be stable across retries of the same event so the broker can
// deduplicate.
type Publisher interface {
	Publish(subject, msgID string, payload []byte) error
}

// Client wraps a NATS connection with its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// ConnectJetStream connects to NATS and ensures the events stream exists.
func ConnectJetStream(url string) (*Client, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := EnsureStream(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

// ConnectJetStreamWithRetry keeps connecting until the timeout elapses.
func ConnectJetStreamWithRetry(url string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

// Close drains and closes the underlying connection.
func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// EnsureStream creates (or validates) the envelope events stream.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(EventsStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      EventsStream,
				Subjects:  []string{SubjectPrefix + ".>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}
	return nil
}

// JetStreamPublisher publishes through a JetStream context.
type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

// Publish sends payload to subject with msgID for broker-side deduplication.
func (p JetStreamPublisher) Publish(subject, msgID string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload, nats.MsgId(msgID))
	return err
}

// Subject builds the full subject for an event type label such as
// "envelope.sent".
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}
