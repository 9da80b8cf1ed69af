// Package message defines the unit of work that flows from a route's input
// through its processing steps.
package message

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Well-known header names set by the coordinator and built-in components.
const (
	HeaderRouteID   = "relay.route_id"
	HeaderFromURI   = "relay.from_uri"
	HeaderTimerTick = "relay.timer_tick"
)

// Message is one unit of work.
type Message struct {
	ID      string
	Body    any
	Headers map[string]any
	Created time.Time
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexically sortable unique id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// New creates a message carrying body.
func New(body any) *Message {
	return &Message{
		ID:      NewID(),
		Body:    body,
		Headers: make(map[string]any),
		Created: time.Now(),
	}
}

// Header returns the header value and whether it was set.
func (m *Message) Header(key string) (any, bool) {
	if m.Headers == nil {
		return nil, false
	}
	v, ok := m.Headers[key]
	return v, ok
}

// SetHeader sets a header, allocating the map on first use.
func (m *Message) SetHeader(key string, val any) {
	if m.Headers == nil {
		m.Headers = make(map[string]any)
	}
	m.Headers[key] = val
}

// Processor handles a message.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg *Message) error

func (f ProcessorFunc) Process(ctx context.Context, msg *Message) error { return f(ctx, msg) }
