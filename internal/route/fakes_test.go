package route

import (
	"context"
	"errors"
	"sync"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/message"
)

type fakeEndpoint struct {
	uri         string
	suspendable bool
	producerErr error

	mu        sync.Mutex
	processor message.Processor
	consumer  *fakeConsumer
	received  []*message.Message
	block     chan struct{}
}

func (e *fakeEndpoint) URI() string                 { return e.uri }
func (e *fakeEndpoint) Start(context.Context) error { return nil }
func (e *fakeEndpoint) Stop(context.Context) error  { return nil }

func (e *fakeEndpoint) CreateConsumer(p message.Processor) (endpoint.Consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processor = p
	e.consumer = &fakeConsumer{}
	if e.suspendable {
		return &suspendableConsumer{fakeConsumer: e.consumer}, nil
	}
	return e.consumer, nil
}

func (e *fakeEndpoint) CreateProducer() (endpoint.Producer, error) {
	if e.producerErr != nil {
		return nil, e.producerErr
	}
	return &fakeProducer{ep: e}, nil
}

// send feeds msg into the route consuming from e.
func (e *fakeEndpoint) send(ctx context.Context, msg *message.Message) error {
	e.mu.Lock()
	p := e.processor
	e.mu.Unlock()
	if p == nil {
		return errors.New("no consumer")
	}
	return p.Process(ctx, msg)
}

func (e *fakeEndpoint) messages() []*message.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*message.Message(nil), e.received...)
}

type fakeConsumer struct {
	mu        sync.Mutex
	started   bool
	suspended bool
}

func (c *fakeConsumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeConsumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

func (c *fakeConsumer) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

type suspendableConsumer struct {
	*fakeConsumer
}

func (c *suspendableConsumer) Suspend(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = true
	return nil
}

func (c *suspendableConsumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	return nil
}

type fakeProducer struct {
	ep      *fakeEndpoint
	stopped bool
}

func (p *fakeProducer) Start(context.Context) error { return nil }

func (p *fakeProducer) Stop(context.Context) error {
	p.stopped = true
	return nil
}

func (p *fakeProducer) Process(ctx context.Context, msg *message.Message) error {
	p.ep.mu.Lock()
	block := p.ep.block
	p.ep.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.ep.mu.Lock()
	defer p.ep.mu.Unlock()
	p.ep.received = append(p.ep.received, msg)
	return nil
}

// plainEndpoint can neither consume nor produce.
type plainEndpoint struct{ uri string }

func (e *plainEndpoint) URI() string                 { return e.uri }
func (e *plainEndpoint) Start(context.Context) error { return nil }
func (e *plainEndpoint) Stop(context.Context) error  { return nil }

type fakeEndpoints struct {
	mu          sync.Mutex
	eps         map[string]endpoint.Endpoint
	refs        map[string]map[string]struct{}
	suspendable bool
}

func newFakeEndpoints() *fakeEndpoints {
	return &fakeEndpoints{
		eps:  make(map[string]endpoint.Endpoint),
		refs: make(map[string]map[string]struct{}),
	}
}

func (f *fakeEndpoints) Acquire(_ context.Context, uri, routeID string) (endpoint.Endpoint, error) {
	p, err := endpoint.Normalize(uri)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.eps[p.Key]
	if !ok {
		if p.Scheme == "plain" {
			ep = &plainEndpoint{uri: p.Key}
		} else {
			ep = &fakeEndpoint{uri: p.Key, suspendable: f.suspendable}
		}
		f.eps[p.Key] = ep
	}
	if f.refs[p.Key] == nil {
		f.refs[p.Key] = make(map[string]struct{})
	}
	f.refs[p.Key][routeID] = struct{}{}
	return ep, nil
}

func (f *fakeEndpoints) Release(uri, routeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs, ok := f.refs[uri]
	if !ok {
		return false
	}
	delete(refs, routeID)
	return len(refs) == 0
}

func (f *fakeEndpoints) get(uri string) *fakeEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, _ := f.eps[uri].(*fakeEndpoint)
	return ep
}

func (f *fakeEndpoints) refCount(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refs[uri])
}
