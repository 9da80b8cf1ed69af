package engine

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relay/internal/component"
	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/message"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) index(e string) int {
	return slices.Index(r.list(), e)
}

// withPrefix returns the events starting with prefix, prefix stripped.
func (r *recorder) withPrefix(prefix string) []string {
	var out []string
	for _, e := range r.list() {
		if rest, ok := strings.CutPrefix(e, prefix); ok {
			out = append(out, rest)
		}
	}
	return out
}

// recComponent builds endpoints that record their lifecycle. A "block=true"
// parameter makes producers wait for the component's block channel.
type recComponent struct {
	rec   *recorder
	block chan struct{}
}

func (c *recComponent) CreateEndpoint(_ context.Context, uri string, params map[string]string) (endpoint.Endpoint, error) {
	return &recEndpoint{uri: uri, c: c, block: params["block"] == "true"}, nil
}

type recEndpoint struct {
	uri   string
	c     *recComponent
	block bool
}

func (e *recEndpoint) URI() string { return e.uri }

func (e *recEndpoint) Start(context.Context) error {
	e.c.rec.add("start " + e.uri)
	return nil
}

func (e *recEndpoint) Stop(context.Context) error {
	e.c.rec.add("stop " + e.uri)
	return nil
}

func (e *recEndpoint) CreateConsumer(message.Processor) (endpoint.Consumer, error) {
	return &recConsumer{ep: e}, nil
}

func (e *recEndpoint) CreateProducer() (endpoint.Producer, error) {
	return &recProducer{ep: e}, nil
}

type recConsumer struct{ ep *recEndpoint }

func (c *recConsumer) Start(context.Context) error {
	c.ep.c.rec.add("consume " + c.ep.uri)
	return nil
}

func (c *recConsumer) Stop(context.Context) error {
	c.ep.c.rec.add("unconsume " + c.ep.uri)
	return nil
}

type recProducer struct{ ep *recEndpoint }

func (p *recProducer) Start(context.Context) error { return nil }
func (p *recProducer) Stop(context.Context) error  { return nil }

func (p *recProducer) Process(ctx context.Context, msg *message.Message) error {
	if p.ep.block {
		select {
		case <-p.ep.c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.ep.c.rec.add("produce " + p.ep.uri)
	return nil
}

type recService struct {
	name     string
	rec      *recorder
	startErr error
	gate     chan struct{}
}

func (s *recService) Name() string { return s.name }

func (s *recService) Start(context.Context) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.rec.add("start service " + s.name)
	return nil
}

func (s *recService) Stop(context.Context) error {
	s.rec.add("stop service " + s.name)
	return nil
}

type fixture struct {
	e     *Engine
	rec   *recorder
	block chan struct{}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	rec := &recorder{}
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	e := New("test", opts...)
	require.NoError(t, component.RegisterDefaults(e, nil))
	require.NoError(t, e.AddComponent("rec", &recComponent{rec: rec, block: block}))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return &fixture{e: e, rec: rec, block: block}
}

func (f *fixture) service(name string) *recService {
	return &recService{name: name, rec: f.rec}
}
