package component

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/message"
)

// Log builds log endpoints.
type Log struct {
	log logger.Logger
}

func NewLog(log logger.Logger) *Log {
	if log == nil {
		log = logger.NewNop()
	}
	return &Log{log: log.Named("log")}
}

func (c *Log) CreateEndpoint(_ context.Context, uri string, params map[string]string) (endpoint.Endpoint, error) {
	level := strings.ToLower(params["level"])
	switch level {
	case "":
		level = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("%w: level %q", ErrInvalidParameter, params["level"])
	}
	return &LogEndpoint{
		uri:   uri,
		level: level,
		log:   c.log.With(logger.String("uri", uri)),
	}, nil
}

// LogEndpoint logs every message it receives.
type LogEndpoint struct {
	uri   string
	level string
	log   logger.Logger
	count atomic.Int64
}

func (e *LogEndpoint) URI() string                 { return e.uri }
func (e *LogEndpoint) Start(context.Context) error { return nil }
func (e *LogEndpoint) Stop(context.Context) error  { return nil }

// Count returns the number of messages logged.
func (e *LogEndpoint) Count() int64 { return e.count.Load() }

func (e *LogEndpoint) CreateProducer() (endpoint.Producer, error) {
	return &logProducer{ep: e}, nil
}

type logProducer struct {
	ep *LogEndpoint
}

func (p *logProducer) Start(context.Context) error { return nil }
func (p *logProducer) Stop(context.Context) error  { return nil }

func (p *logProducer) Process(_ context.Context, msg *message.Message) error {
	p.ep.count.Add(1)
	fields := []logger.Field{
		logger.String("message_id", msg.ID),
		logger.String("body", fmt.Sprint(msg.Body)),
	}
	if id, ok := msg.Header(message.HeaderRouteID); ok {
		fields = append(fields, logger.String("route_id", fmt.Sprint(id)))
	}

	switch p.ep.level {
	case "debug":
		p.ep.log.Debug("message", fields...)
	case "warn":
		p.ep.log.Warn("message", fields...)
	case "error":
		p.ep.log.Error("message", fields...)
	default:
		p.ep.log.Info("message", fields...)
	}
	return nil
}
