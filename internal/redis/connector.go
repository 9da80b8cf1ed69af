// Package redis connects to the Redis server that receives context
// snapshots.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/fault"
	"github.com/MrSnakeDoc/relay/internal/logger"
)

// ErrInvalidOptions reports unusable connection settings.
var ErrInvalidOptions = fault.New(fault.ErrValidation, "invalid redis options")

// ConnectOptions configures the client and how long New keeps trying.
type ConnectOptions struct {
	Addr           string        // ex: "localhost:6379"
	User           string        // optional
	Password       string        // optional
	RedisDB        int           // database number
	DialTimeout    time.Duration // per dial
	ReadTimeout    time.Duration // per command read
	WriteTimeout   time.Duration // per command write
	PoolSize       int           // connection pool size
	ConnectTimeout time.Duration // budget for all attempts (ex: 30s)
	RetryInterval  time.Duration // first backoff, doubled after each failure (ex: 2s)
	MaxWait        time.Duration // backoff cap (ex: 10s)
	PingTimeout    time.Duration // per attempt (ex: 2s)
	WarnThreshold  int           // attempts logged at warn before switching to error
}

// Validate reports every unusable setting at once.
func (o ConnectOptions) Validate() error {
	var errs error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidOptions, name, d))
		}
	}
	positive("ConnectTimeout", o.ConnectTimeout)
	positive("RetryInterval", o.RetryInterval)
	positive("MaxWait", o.MaxWait)
	positive("PingTimeout", o.PingTimeout)
	if o.WarnThreshold < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: WarnThreshold must be >= 0, got %d", ErrInvalidOptions, o.WarnThreshold))
	}
	return errs
}

func (o ConnectOptions) clientOptions() *redis.Options {
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.User,
		Password:     o.Password,
		DB:           o.RedisDB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	}
}

// backoff doubles from initial up to max.
type backoff struct {
	next time.Duration
	max  time.Duration
}

func (b *backoff) wait() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.max)
	return d
}

// New creates a Redis client and waits for it to answer, retrying with
// exponential backoff until ConnectTimeout or ctx ends. The client is closed
// when no connection could be made.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis").With(logger.String("addr", opts.Addr))

	client := redis.NewClient(opts.clientOptions())
	if err := waitReady(ctx, client, opts, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// waitReady pings until the server answers or the connect budget is spent.
func waitReady(parent context.Context, client redis.Cmdable, opts ConnectOptions, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(parent, opts.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis", logger.Duration("timeout", opts.ConnectTimeout))
	start := time.Now()
	b := &backoff{next: opts.RetryInterval, max: opts.MaxWait}

	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			if attempt > 1 {
				log.Warn("connected to redis after retry",
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(start)))
			} else {
				log.Info("connected to redis")
			}
			return nil
		}

		wait := b.wait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error("redis unavailable",
				logger.Int("attempts", attempt),
				logger.Duration("elapsed", time.Since(start)),
				logger.Error(err))
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
		}

		fields := []logger.Field{
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", wait),
			logger.Error(err),
		}
		if attempt <= opts.WarnThreshold {
			log.Warn("redis connection failed, retrying", fields...)
		} else {
			log.Error("redis still unavailable, retrying", fields...)
		}
	}
}
