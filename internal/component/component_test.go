package component

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/fault"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/message"
)

// componentsRegistrar adapts *endpoint.Components (which exposes Add) to Registrar.
type componentsRegistrar struct{ c *endpoint.Components }

func (r componentsRegistrar) AddComponent(name string, comp endpoint.Component) error {
	return r.c.Add(name, comp)
}

func TestRegisterDefaults(t *testing.T) {
	c := endpoint.NewComponents()
	require.NoError(t, RegisterDefaults(componentsRegistrar{c}, logger.NewNop()))
	assert.Equal(t, []string{"direct", "log", "timer"}, c.Names())
}

func TestDirectHandsOffToConsumer(t *testing.T) {
	ctx := context.Background()
	ep, err := NewDirect().CreateEndpoint(ctx, "direct:in", nil)
	require.NoError(t, err)
	direct := ep.(*DirectEndpoint)

	err = direct.Send(ctx, message.New("early"))
	require.ErrorIs(t, err, ErrNoConsumers)

	var got atomic.Value
	consumer, err := direct.CreateConsumer(message.ProcessorFunc(func(_ context.Context, msg *message.Message) error {
		got.Store(msg.Body)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))

	producer, err := direct.CreateProducer()
	require.NoError(t, err)
	require.NoError(t, producer.Process(ctx, message.New("hello")))
	assert.Equal(t, "hello", got.Load())

	s, ok := consumer.(endpoint.Suspendable)
	require.True(t, ok)
	require.NoError(t, s.Suspend(ctx))
	assert.ErrorIs(t, direct.Send(ctx, message.New("paused")), ErrNoConsumers)
	require.NoError(t, s.Resume(ctx))
	assert.NoError(t, direct.Send(ctx, message.New("again")))

	require.NoError(t, consumer.Stop(ctx))
	assert.ErrorIs(t, direct.Send(ctx, message.New("late")), ErrNoConsumers)
}

func TestDirectSingleConsumer(t *testing.T) {
	ctx := context.Background()
	ep, _ := NewDirect().CreateEndpoint(ctx, "direct:in", nil)
	direct := ep.(*DirectEndpoint)
	noop := message.ProcessorFunc(func(context.Context, *message.Message) error { return nil })

	first, _ := direct.CreateConsumer(noop)
	second, _ := direct.CreateConsumer(noop)
	require.NoError(t, first.Start(ctx))
	assert.Error(t, second.Start(ctx))
}

func TestLogEndpoint(t *testing.T) {
	ctx := context.Background()
	c := NewLog(logger.NewNop())

	_, err := c.CreateEndpoint(ctx, "log:x?level=loud", map[string]string{"level": "loud"})
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.ErrorIs(t, err, fault.ErrValidation)

	ep, err := c.CreateEndpoint(ctx, "log:x?level=debug", map[string]string{"level": "debug"})
	require.NoError(t, err)
	p, err := ep.(endpoint.ProducerEndpoint).CreateProducer()
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, message.New(1)))
	require.NoError(t, p.Process(ctx, message.New(2)))
	assert.EqualValues(t, 2, ep.(*LogEndpoint).Count())
}

func TestTimerParameters(t *testing.T) {
	ctx := context.Background()
	c := NewTimer(nil)

	for _, params := range []map[string]string{
		{"period": "soon"},
		{"period": "0s"},
		{"delay": "-1s"},
		{"repeatCount": "x"},
	} {
		_, err := c.CreateEndpoint(ctx, "timer:t", params)
		assert.ErrorIs(t, err, ErrInvalidParameter, params)
	}

	ep, err := c.CreateEndpoint(ctx, "timer:t", map[string]string{"period": "5ms", "delay": "1ms", "repeatCount": "3"})
	require.NoError(t, err)
	te := ep.(*TimerEndpoint)
	assert.Equal(t, 5*time.Millisecond, te.period)
	assert.Equal(t, time.Millisecond, te.delay)
	assert.EqualValues(t, 3, te.repeat)
}

func TestTimerFiresAndStops(t *testing.T) {
	ctx := context.Background()
	ep, err := NewTimer(nil).CreateEndpoint(ctx, "timer:t", map[string]string{"period": "2ms", "repeatCount": "3"})
	require.NoError(t, err)

	var ticks atomic.Int64
	var lastHeader atomic.Value
	consumer, err := ep.(endpoint.ConsumerEndpoint).CreateConsumer(message.ProcessorFunc(func(_ context.Context, msg *message.Message) error {
		ticks.Add(1)
		v, _ := msg.Header(message.HeaderTimerTick)
		lastHeader.Store(v)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))

	require.Eventually(t, func() bool { return ticks.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 3, ticks.Load(), "repeatCount bounds the ticks")
	assert.EqualValues(t, int64(3), lastHeader.Load())
	require.NoError(t, consumer.Stop(ctx))
}

func TestTimerSuspend(t *testing.T) {
	ctx := context.Background()
	ep, err := NewTimer(nil).CreateEndpoint(ctx, "timer:t", map[string]string{"period": "2ms"})
	require.NoError(t, err)

	var ticks atomic.Int64
	consumer, _ := ep.(endpoint.ConsumerEndpoint).CreateConsumer(message.ProcessorFunc(func(context.Context, *message.Message) error {
		ticks.Add(1)
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)

	s := consumer.(endpoint.Suspendable)
	require.NoError(t, s.Suspend(ctx))
	time.Sleep(5 * time.Millisecond)
	paused := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, paused, ticks.Load())

	require.NoError(t, s.Resume(ctx))
	require.Eventually(t, func() bool { return ticks.Load() > paused }, time.Second, time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))
}

func TestTimerStopDoesNotWaitForBlockedTick(t *testing.T) {
	ctx := context.Background()
	ep, err := NewTimer(nil).CreateEndpoint(ctx, "timer:t", map[string]string{"period": "2ms"})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	var ticks atomic.Int64
	consumer, _ := ep.(endpoint.ConsumerEndpoint).CreateConsumer(message.ProcessorFunc(func(context.Context, *message.Message) error {
		ticks.Add(1)
		<-release
		return nil
	}))
	require.NoError(t, consumer.Start(ctx))
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- consumer.Stop(ctx) }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the tick in progress")
	}
	assert.EqualValues(t, 1, ticks.Load())
}
