package engine

import "context"

// StartupListener is called once the engine has started. alreadyStarted is
// true for listeners added to an engine that was already running.
type StartupListener interface {
	OnStarted(ctx context.Context, e *Engine, alreadyStarted bool) error
}

// StartupListenerFunc adapts a function to StartupListener.
type StartupListenerFunc func(ctx context.Context, e *Engine, alreadyStarted bool) error

func (f StartupListenerFunc) OnStarted(ctx context.Context, e *Engine, alreadyStarted bool) error {
	return f(ctx, e, alreadyStarted)
}

// AddStartupListener registers l. It fires on every Start, after routes and
// deferred services; a failing listener aborts the start. When the engine
// is already started, l is called right away with alreadyStarted set.
func (e *Engine) AddStartupListener(ctx context.Context, l StartupListener) error {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	fired := e.listenersFired
	e.mu.Unlock()

	if !fired {
		return nil
	}
	return l.OnStarted(ctx, e, true)
}
