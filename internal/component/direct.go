package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/message"
)

// Direct builds direct endpoints.
type Direct struct{}

func NewDirect() *Direct { return &Direct{} }

func (*Direct) CreateEndpoint(_ context.Context, uri string, _ map[string]string) (endpoint.Endpoint, error) {
	return &DirectEndpoint{uri: uri}, nil
}

// DirectEndpoint hands each message to its consumer on the sender's goroutine.
type DirectEndpoint struct {
	uri string

	mu       sync.RWMutex
	consumer *directConsumer
}

func (e *DirectEndpoint) URI() string                 { return e.uri }
func (e *DirectEndpoint) Start(context.Context) error { return nil }

func (e *DirectEndpoint) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consumer = nil
	return nil
}

func (e *DirectEndpoint) CreateConsumer(p message.Processor) (endpoint.Consumer, error) {
	return &directConsumer{ep: e, processor: p}, nil
}

func (e *DirectEndpoint) CreateProducer() (endpoint.Producer, error) {
	return &directProducer{ep: e}, nil
}

// Send delivers msg to the active consumer.
func (e *DirectEndpoint) Send(ctx context.Context, msg *message.Message) error {
	e.mu.RLock()
	c := e.consumer
	e.mu.RUnlock()

	if c == nil || c.suspended() {
		return fmt.Errorf("%w: %s", ErrNoConsumers, e.uri)
	}
	return c.processor.Process(ctx, msg)
}

func (e *DirectEndpoint) attach(c *directConsumer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer != nil && e.consumer != c {
		return fmt.Errorf("direct endpoint %s already has a consumer", e.uri)
	}
	e.consumer = c
	return nil
}

func (e *DirectEndpoint) detach(c *directConsumer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer == c {
		e.consumer = nil
	}
}

type directConsumer struct {
	ep        *DirectEndpoint
	processor message.Processor

	mu     sync.Mutex
	paused bool
}

func (c *directConsumer) Start(context.Context) error { return c.ep.attach(c) }

func (c *directConsumer) Stop(context.Context) error {
	c.ep.detach(c)
	return nil
}

func (c *directConsumer) Suspend(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *directConsumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *directConsumer) suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

type directProducer struct {
	ep *DirectEndpoint
}

func (p *directProducer) Start(context.Context) error { return nil }
func (p *directProducer) Stop(context.Context) error  { return nil }

func (p *directProducer) Process(ctx context.Context, msg *message.Message) error {
	return p.ep.Send(ctx, msg)
}
