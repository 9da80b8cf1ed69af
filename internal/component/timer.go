package component

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/message"
)

const defaultTimerPeriod = time.Second

// Timer builds timer endpoints.
type Timer struct {
	log logger.Logger
}

func NewTimer(log logger.Logger) *Timer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Timer{log: log.Named("timer")}
}

func (c *Timer) CreateEndpoint(_ context.Context, uri string, params map[string]string) (endpoint.Endpoint, error) {
	ep := &TimerEndpoint{uri: uri, period: defaultTimerPeriod, log: c.log.With(logger.String("uri", uri))}

	if v := params["period"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: period %q", ErrInvalidParameter, v)
		}
		ep.period = d
	}
	if v := params["delay"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: delay %q", ErrInvalidParameter, v)
		}
		ep.delay = d
	}
	if v := params["repeatCount"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: repeatCount %q", ErrInvalidParameter, v)
		}
		ep.repeat = n
	}
	return ep, nil
}

// TimerEndpoint emits a message every period. Its consumers can be suspended.
type TimerEndpoint struct {
	uri    string
	period time.Duration
	delay  time.Duration
	repeat int64 // 0 means forever
	log    logger.Logger
}

func (e *TimerEndpoint) URI() string                 { return e.uri }
func (e *TimerEndpoint) Start(context.Context) error { return nil }
func (e *TimerEndpoint) Stop(context.Context) error  { return nil }

func (e *TimerEndpoint) CreateConsumer(p message.Processor) (endpoint.Consumer, error) {
	return &timerConsumer{ep: e, processor: p}, nil
}

type timerConsumer struct {
	ep        *TimerEndpoint
	processor message.Processor

	mu     sync.Mutex
	stopCh chan struct{}
	paused atomic.Bool
	ticks  atomic.Int64
}

func (c *timerConsumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		return nil
	}
	c.stopCh = make(chan struct{})
	go c.run(c.stopCh)
	return nil
}

// Stop ends the tick loop and returns at once. A tick already being
// processed is left to the route, which drains or cancels it.
func (c *timerConsumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	return nil
}

func (c *timerConsumer) Suspend(context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *timerConsumer) Resume(context.Context) error {
	c.paused.Store(false)
	return nil
}

func (c *timerConsumer) run(stopCh <-chan struct{}) {
	if c.ep.delay > 0 {
		select {
		case <-time.After(c.ep.delay):
		case <-stopCh:
			return
		}
	}

	ticker := time.NewTicker(c.ep.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.paused.Load() || stopped(stopCh) {
				continue
			}
			n := c.ticks.Add(1)
			c.fire(n)
			if c.ep.repeat > 0 && n >= c.ep.repeat {
				return
			}
		case <-stopCh:
			return
		}
	}
}

func (c *timerConsumer) fire(n int64) {
	msg := message.New(n)
	msg.SetHeader(message.HeaderFromURI, c.ep.uri)
	msg.SetHeader(message.HeaderTimerTick, n)
	if err := c.processor.Process(context.Background(), msg); err != nil {
		c.ep.log.Warn("timer tick failed",
			logger.Int64("tick", n),
			logger.Error(err))
	}
}

func stopped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
