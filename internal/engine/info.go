package engine

import (
	"maps"
	"time"
)

// Info is a read-only summary of the engine for management sinks.
type Info struct {
	Name           string            `json:"name"`
	ManagementName string            `json:"management_name"`
	Version        string            `json:"version,omitempty"`
	Status         Status            `json:"status"`
	StartedAt      time.Time         `json:"started_at,omitzero"`
	Uptime         time.Duration     `json:"uptime"`
	Routes         int               `json:"routes"`
	Endpoints      int               `json:"endpoints"`
	Services       int               `json:"services"`
	Components     []string          `json:"components"`
	GlobalOptions  map[string]string `json:"global_options,omitempty"`
}

func (e *Engine) Info() Info {
	info := Info{
		Name:           e.name,
		ManagementName: e.ManagementName(),
		Version:        e.version,
		Status:         e.Status(),
		Uptime:         e.Uptime(),
		Routes:         e.routes.Len(),
		Services:       e.services.Len(),
		Components:     e.components.Names(),
		GlobalOptions:  e.GlobalOptions(),
	}
	if ts := e.startedAt.Load(); ts != 0 {
		info.StartedAt = time.Unix(0, ts)
	}
	static, dynamic := e.EndpointRegistry().Len()
	info.Endpoints = static + dynamic
	return info
}

// GlobalOptions returns a copy of the global options.
func (e *Engine) GlobalOptions() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.globalOptions)
}

// SetGlobalOptions replaces the global options.
func (e *Engine) SetGlobalOptions(opts map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalOptions = maps.Clone(opts)
	if e.globalOptions == nil {
		e.globalOptions = make(map[string]string)
	}
}

// GlobalOption returns one global option.
func (e *Engine) GlobalOption(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.globalOptions[key]
	return v, ok
}
