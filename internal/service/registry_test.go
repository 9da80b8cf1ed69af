package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relay/internal/fault"
)

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(ev string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeService struct {
	name     string
	j        *journal
	startErr error
	stopErr  error
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.j.add("start:" + f.name)
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	f.j.add("stop:" + f.name)
	return f.stopErr
}

type valueService struct{ id int }

func (valueService) Start(context.Context) error { return nil }
func (valueService) Stop(context.Context) error  { return nil }

func TestStopOrderIsReverseOfStartOrder(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)

	a := &fakeService{name: "A", j: j}
	b := &fakeService{name: "B", j: j}
	_, err := r.Add(ctx, a, true, false)
	require.NoError(t, err)
	_, err = r.Add(ctx, b, true, false)
	require.NoError(t, err)

	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.MarkStarted(ctx))
	require.NoError(t, r.StopAll(ctx))

	assert.Equal(t, []string{"start:A", "start:B", "stop:B", "stop:A"}, j.all())
}

func TestDeferredServicesStartAtMarkStartedAndStopInReverse(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)

	d := &fakeService{name: "D", j: j}
	a := &fakeService{name: "A", j: j}
	_, err := r.DeferStart(ctx, d, true)
	require.NoError(t, err)
	_, err = r.Add(ctx, a, true, false)
	require.NoError(t, err)

	require.NoError(t, r.StartAll(ctx))
	assert.Equal(t, []string{"start:A"}, j.all(), "deferred service must wait for MarkStarted")

	require.NoError(t, r.MarkStarted(ctx))
	require.NoError(t, r.StopAll(ctx))

	assert.Equal(t, []string{"start:A", "start:D", "stop:D", "stop:A"}, j.all())
}

func TestAddAfterStartedStartsImmediately(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.MarkStarted(ctx))

	late := &fakeService{name: "late", j: j}
	_, err := r.Add(ctx, late, true, false)
	require.NoError(t, err)
	deferred := &fakeService{name: "deferred", j: j}
	_, err = r.DeferStart(ctx, deferred, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"start:late", "start:deferred"}, j.all())
}

func TestForceStartBeforeEngineStarts(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)

	s := &fakeService{name: "eager", j: j}
	_, err := r.Add(ctx, s, true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"start:eager"}, j.all())

	require.NoError(t, r.StartAll(ctx))
	assert.Equal(t, []string{"start:eager"}, j.all(), "already started service must not start twice")
}

func TestAddIsIdempotentOnSameInstance(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	s := &fakeService{name: "s", j: &journal{}}

	h1, err := r.Add(ctx, s, true, false)
	require.NoError(t, err)
	h2, err := r.Add(ctx, s, true, false)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, r.Len())
}

func TestStructurallyEqualValuesAreDistinct(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	_, err := r.Add(ctx, valueService{id: 1}, true, false)
	require.NoError(t, err)
	_, err = r.Add(ctx, valueService{id: 1}, true, false)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
}

func TestStartFailureAbortsRemaining(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)
	boom := errors.New("boom")

	_, _ = r.Add(ctx, &fakeService{name: "A", j: j}, true, false)
	_, _ = r.Add(ctx, &fakeService{name: "B", j: j, startErr: boom}, true, false)
	_, _ = r.Add(ctx, &fakeService{name: "C", j: j}, true, false)

	err := r.StartAll(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start:A"}, j.all())
}

func TestStopFailureDoesNotAbortRemaining(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)
	first := errors.New("first")
	second := errors.New("second")

	_, _ = r.Add(ctx, &fakeService{name: "A", j: j, stopErr: second}, true, false)
	_, _ = r.Add(ctx, &fakeService{name: "B", j: j, stopErr: first}, true, false)
	_, _ = r.Add(ctx, &fakeService{name: "C", j: j}, true, false)
	require.NoError(t, r.StartAll(ctx))

	err := r.StopAll(ctx)
	require.ErrorIs(t, err, first)
	assert.NotErrorIs(t, err, second)
	assert.Equal(t, []string{"start:A", "start:B", "start:C", "stop:C", "stop:B", "stop:A"}, j.all())
	assert.Equal(t, 0, r.Len())
}

func TestStopOnShutdownFalseIsKeptAndNotStopped(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)
	keep := &fakeService{name: "keep", j: j}

	_, _ = r.Add(ctx, keep, false, false)
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.StopAll(ctx))

	assert.Equal(t, []string{"start:keep"}, j.all())
	assert.True(t, r.Has(keep))
}

func TestAddDuringStoppingFails(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	var added error

	blocker := &callbackService{stop: func() {
		_, added = r.Add(ctx, &fakeService{name: "late", j: &journal{}}, true, false)
	}}
	_, _ = r.Add(ctx, blocker, true, false)
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.StopAll(ctx))

	require.ErrorIs(t, added, ErrContextStopped)
	assert.ErrorIs(t, added, fault.ErrLifecycle)
}

func TestRemoveDoesNotChangeRunningState(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)
	s := &fakeService{name: "s", j: j}

	_, _ = r.Add(ctx, s, true, true)
	assert.True(t, r.Remove(s))
	assert.False(t, r.Remove(s))
	require.NoError(t, r.StopAll(ctx))

	assert.Equal(t, []string{"start:s"}, j.all())
}

func TestLookupByType(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	a := &fakeService{name: "A", j: &journal{}}
	b := &fakeService{name: "B", j: &journal{}}
	_, _ = r.Add(ctx, valueService{id: 7}, true, false)
	_, _ = r.Add(ctx, a, true, false)
	_, _ = r.Add(ctx, b, true, false)

	got, ok := Lookup[*fakeService](r)
	require.True(t, ok)
	assert.Same(t, a, got)

	all := LookupAll[Named](r)
	require.Len(t, all, 2)

	_, ok = Lookup[*callbackService](r)
	assert.False(t, ok)
}

func TestSnapshotReflectsState(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	_, _ = r.Add(ctx, &fakeService{name: "A", j: &journal{}}, true, false)
	_, _ = r.DeferStart(ctx, &fakeService{name: "D", j: &journal{}}, false)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "A", snap[0].Name)
	assert.False(t, snap[0].Started)
	assert.True(t, snap[1].Deferred)
	assert.False(t, snap[1].StopOnShutdown)
}

func TestNilServiceRejected(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Add(context.Background(), nil, true, false)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

type callbackService struct {
	stop func()
}

func (c *callbackService) Start(context.Context) error { return nil }
func (c *callbackService) Stop(context.Context) error {
	if c.stop != nil {
		c.stop()
	}
	return nil
}

func TestBeginStopRejectsNewServices(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	r := NewRegistry(nil)
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.MarkStarted(ctx))

	r.BeginStop()
	_, err := r.Add(ctx, &fakeService{name: "late", j: j}, true, false)
	require.ErrorIs(t, err, ErrContextStopped)
	_, err = r.DeferStart(ctx, &fakeService{name: "later", j: j}, true)
	require.ErrorIs(t, err, ErrContextStopped)
	assert.Empty(t, j.all(), "nothing starts while stopping")

	require.NoError(t, r.StopAll(ctx))
	_, err = r.Add(ctx, &fakeService{name: "after", j: j}, true, false)
	require.NoError(t, err, "registrations reopen once stopped")
}
