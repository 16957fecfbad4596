package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/ridematch/internal/dispatch/domain"
)

var throttledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_throttled_total",
	Help: "Requests refused by the intake throttle.",
}, []string{"scope"})

// ThrottleConfig caps requests per client and window. A zero limit disables
// the scope.
type ThrottleConfig struct {
	ReadLimit  int64
	WriteLimit int64
	Window     time.Duration
	Prefix     string
}

// Throttle counts requests per client in fixed Redis windows so every
// replica shares the same budget.
type Throttle struct {
	client *redis.Client
	cfg    ThrottleConfig
	clock  domain.Clock
	logger *zap.Logger
}

// NewThrottle returns nil when client is nil; a nil Throttle passes
// everything through.
func NewThrottle(client *redis.Client, cfg ThrottleConfig, clock domain.Clock, logger *zap.Logger) *Throttle {
	if client == nil {
		return nil
	}
	if cfg.Window < time.Millisecond {
		cfg.Window = time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "throttle"
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{client: client, cfg: cfg, clock: clock, logger: logger}
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t == nil || (t.cfg.ReadLimit <= 0 && t.cfg.WriteLimit <= 0) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, limit := "write", t.cfg.WriteLimit
		if isReadMethod(r.Method) {
			scope, limit = "read", t.cfg.ReadLimit
		}
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		allowed, retryAfter, err := t.allow(r.Context(), scope, clientIdentifier(r), limit)
		if err != nil {
			// fail open
			t.logger.Warn("throttle check failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			throttledTotal.WithLabelValues(scope).Inc()
			w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(ctx context.Context, scope, client string, limit int64) (bool, time.Duration, error) {
	now := t.clock.Now()
	window := now.UnixMilli() / t.cfg.Window.Milliseconds()
	key := strings.Join([]string{t.cfg.Prefix, scope, client, strconv.FormatInt(window, 10)}, ":")

	var count *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, t.cfg.Window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("throttle incr: %w", err)
	}
	if count.Val() <= limit {
		return true, 0, nil
	}
	windowEnd := time.UnixMilli((window + 1) * t.cfg.Window.Milliseconds())
	return false, windowEnd.Sub(now), nil
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return host
}
