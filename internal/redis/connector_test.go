package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/fault"
	"github.com/MrSnakeDoc/relay/internal/logger"
)

func validOptions() ConnectOptions {
	return ConnectOptions{
		Addr:           "127.0.0.1:1",
		DialTimeout:    20 * time.Millisecond,
		ConnectTimeout: 80 * time.Millisecond,
		RetryInterval:  10 * time.Millisecond,
		MaxWait:        20 * time.Millisecond,
		PingTimeout:    20 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectOptions)
	}{
		{name: "connect timeout", mutate: func(o *ConnectOptions) { o.ConnectTimeout = 0 }},
		{name: "retry interval", mutate: func(o *ConnectOptions) { o.RetryInterval = 0 }},
		{name: "max wait", mutate: func(o *ConnectOptions) { o.MaxWait = -time.Second }},
		{name: "ping timeout", mutate: func(o *ConnectOptions) { o.PingTimeout = 0 }},
		{name: "warn threshold", mutate: func(o *ConnectOptions) { o.WarnThreshold = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)
			if _, err := New(context.Background(), opts, logger.NewNop()); err == nil {
				t.Error("New() should reject the options")
			}
		})
	}
}

func TestNewGivesUpAfterTimeout(t *testing.T) {
	start := time.Now()
	client, err := New(context.Background(), validOptions(), logger.NewNop())
	if err == nil {
		t.Fatal("New() against a closed port should fail")
	}
	if client != nil {
		t.Error("New() returned a client alongside the error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("New() took %v, want about the connect timeout", elapsed)
	}
}

func TestNewStopsWhenContextEnds(t *testing.T) {
	opts := validOptions()
	opts.ConnectTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := New(ctx, opts, logger.NewNop()); err == nil {
		t.Fatal("New() should fail once the context ends")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("New() took %v after the context ended", elapsed)
	}
}

func TestValidateReportsEverySetting(t *testing.T) {
	err := ConnectOptions{WarnThreshold: -1}.Validate()
	if got := len(multierr.Errors(err)); got != 5 {
		t.Errorf("Validate() returned %d errors, want 5: %v", got, err)
	}
	if !errors.Is(err, ErrInvalidOptions) || !errors.Is(err, fault.ErrValidation) {
		t.Errorf("Validate() error %v should be a validation error", err)
	}
	if err := validOptions().Validate(); err != nil {
		t.Errorf("Validate() on valid options: %v", err)
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := &backoff{next: time.Second, max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.wait(); got != w {
			t.Errorf("wait %d = %v, want %v", i, got, w)
		}
	}
}
