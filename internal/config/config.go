package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Name       string // context name, ex: "relay"
	LogLevel   string // "debug" | "info" | "warn" | "error"
	PrettyLog  bool   // true => zap dev (color), false => zap prod (JSON)
	RoutesFile string // optional YAML routes file

	DynamicEndpointCache int               // bound of the dynamic endpoint tier
	GlobalOptions        map[string]string // from "k=v,k2=v2"

	// Graceful shutdown of routes
	RouteTimeout        time.Duration // per-route drain timeout (default: 45s)
	ShutdownTimeout     time.Duration // whole-context drain budget (default: 300s)
	SuppressTimeoutLog  bool          // log forced shutdowns at debug level
	ShutdownParallelism int           // routes drained at once, 1 = sequential
	DrainPollInterval   time.Duration // in-flight polling interval

	// Management sink
	ManagementAddr      string        // ex: ":8080", empty disables the HTTP sink
	HTTPShutdownTimeout time.Duration // ex: 5s
	MetricsEnabled      bool          // expose /metrics
	RateLimitBurst      int           // requests per client before throttling, 0 disables
	RateLimitPerMin     int           // refill per client per minute

	// Redis snapshot publisher (disabled when RedisAddr is empty)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	SnapshotInterval      time.Duration // interval between snapshot publications (default: 30s)
	SnapshotTTL           time.Duration // expiry of published snapshots, 0 = never

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func Load() *Config {
	cfg := &Config{
		Name:       getenv("RELAY_NAME", "relay"),
		LogLevel:   getenv("RELAY_LOG_LEVEL", "info"),
		PrettyLog:  mustBool("RELAY_PRETTY_LOG", true),
		RoutesFile: getenv("RELAY_ROUTES_FILE", ""),

		DynamicEndpointCache: getenvInt("RELAY_DYNAMIC_ENDPOINT_CACHE", 1000),
		GlobalOptions:        parseOptions(getenv("RELAY_GLOBAL_OPTIONS", "")),

		RouteTimeout:        mustDuration("RELAY_SHUTDOWN_ROUTE_TIMEOUT", 45*time.Second),
		ShutdownTimeout:     mustDuration("RELAY_SHUTDOWN_TIMEOUT", 300*time.Second),
		SuppressTimeoutLog:  mustBool("RELAY_SHUTDOWN_SUPPRESS_TIMEOUT_LOG", false),
		ShutdownParallelism: getenvInt("RELAY_SHUTDOWN_PARALLELISM", 1),
		DrainPollInterval:   mustDuration("RELAY_SHUTDOWN_POLL_INTERVAL", 10*time.Millisecond),

		ManagementAddr:      os.Getenv("RELAY_MANAGEMENT_ADDR"),
		HTTPShutdownTimeout: mustDuration("RELAY_HTTP_SHUTDOWN_TIMEOUT", 5*time.Second),
		MetricsEnabled:      mustBool("RELAY_METRICS_ENABLED", true),
		RateLimitBurst:      getenvInt("RELAY_RATE_LIMIT_BURST", 60),
		RateLimitPerMin:     getenvInt("RELAY_RATE_LIMIT_PER_MIN", 120),

		RedisAddr:             getenv("RELAY_REDIS_ADDR", ""),
		RedisUser:             getenv("RELAY_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("RELAY_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("RELAY_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("RELAY_REDIS_DB", 0),
		RedisDT:               mustDuration("RELAY_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("RELAY_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("RELAY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("RELAY_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("RELAY_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("RELAY_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("RELAY_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("RELAY_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("RELAY_REDIS_WARN_THRESHOLD", 3),
		SnapshotInterval:      mustDuration("RELAY_SNAPSHOT_INTERVAL", 30*time.Second),
		SnapshotTTL:           mustDuration("RELAY_SNAPSHOT_TTL", 0),

		AllowedHosts: splitAndTrim(getenv("RELAY_MANAGEMENT_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("RELAY_MANAGEMENT_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("RELAY_TRUST_PROXY", false),
	}
	if _, set := os.LookupEnv("RELAY_MANAGEMENT_ADDR"); !set {
		cfg.ManagementAddr = ":8080"
	}

	if cfg.ShutdownParallelism < 1 {
		panic(fmt.Sprintf("❌ FATAL: RELAY_SHUTDOWN_PARALLELISM must be at least 1, got %d", cfg.ShutdownParallelism))
	}

	// Validate Redis password configuration
	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired {
		cfg.RedisPassword = requireEnv("RELAY_REDIS_PASSWORD")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// parseOptions reads "k=v,k2=v2". Entries without "=" are skipped.
func parseOptions(s string) map[string]string {
	parts := splitAndTrim(s)
	if len(parts) == 0 {
		return nil
	}
	opts := make(map[string]string, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		opts[k] = strings.TrimSpace(v)
	}
	return opts
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
