// Package ipc defines the boundary to the inter-process collaborators: an
// opaque publish/subscribe message queue and a zero-copy buffer service.
// Transport mechanics live behind these interfaces; the control system only
// consumes send/receive operations and the monotonic traffic counters.
package ipc

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Counters is a snapshot of a queue's traffic counters. Published and
// Dropped are monotonically non-decreasing for the life of the queue.
type Counters struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Handler receives delivered messages. Handlers must not retain data beyond
// the call; the underlying buffer may be recycled.
type Handler func(subject string, data []byte)

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
}

// MessageQueue is the message-queue collaborator
type MessageQueue interface {
	// Publish sends data on a subject. Delivery is best-effort; messages
	// that cannot be buffered for a subscriber count as dropped.
	Publish(subject string, data []byte) error
	Subscribe(subject string, h Handler) (Subscription, error)
	Counters() Counters
	Close() error
}

// Envelope is the wire form of readings and commands put on the queue
type Envelope struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload for publication, stamping a fresh ID
func NewEnvelope(subject string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.NewString(),
		Subject:   subject,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}
