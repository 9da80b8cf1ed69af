package engine

import (
	"maps"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/route"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
)

// Observer is notified of lifecycle status changes.
type Observer interface {
	StatusChanged(name string, status Status)
}

type noopObserver struct{}

func (noopObserver) StatusChanged(string, Status) {}

type options struct {
	logger           logger.Logger
	version          string
	managementName   string
	maxDynamic       int
	strategy         shutdown.Strategy
	ids              route.IDFactory
	globalOptions    map[string]string
	observer         Observer
	endpointObserver endpoint.Observer
	shutdownObserver shutdown.Observer
}

// Option configures an Engine.
type Option func(*options)

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithManagementName sets the name used by management sinks when it must
// differ from the engine name.
func WithManagementName(name string) Option {
	return func(o *options) { o.managementName = name }
}

// WithMaxDynamicEndpoints bounds the dynamic endpoint cache.
func WithMaxDynamicEndpoints(n int) Option {
	return func(o *options) { o.maxDynamic = n }
}

func WithShutdownStrategy(s shutdown.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithIDFactory sets the generator for routes defined without an id.
func WithIDFactory(f route.IDFactory) Option {
	return func(o *options) { o.ids = f }
}

func WithGlobalOptions(opts map[string]string) Option {
	return func(o *options) { o.globalOptions = maps.Clone(opts) }
}

// WithObserver, WithEndpointObserver and WithShutdownObserver attach
// metrics collectors.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func WithEndpointObserver(obs endpoint.Observer) Option {
	return func(o *options) { o.endpointObserver = obs }
}

func WithShutdownObserver(obs shutdown.Observer) Option {
	return func(o *options) { o.shutdownObserver = obs }
}
