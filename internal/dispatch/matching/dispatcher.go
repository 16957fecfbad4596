package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ridematch/internal/dispatch/domain"
)

var (
	// ErrClosed is returned by Submit once the dispatcher stopped taking requests.
	ErrClosed = errors.New("dispatcher closed")
	// ErrDuplicateProvider indicates a provider with the same id is already pooled.
	ErrDuplicateProvider = errors.New("provider already in pool")
)

// Emitter receives match and rejection events. Implementations must not block.
type Emitter interface {
	Emit(ctx context.Context, evt domain.Event)
}

// Config tunes the dispatcher. Zero values fall back to defaults.
type Config struct {
	Workers     int
	PollTimeout time.Duration
	LockTimeout time.Duration
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	QueuedRequests     int                              `json:"queued_requests"`
	AvailableProviders int                              `json:"available_providers"`
	Matches            int64                            `json:"matches"`
	Rejections         int64                            `json:"rejections"`
	RejectionsByReason map[domain.RejectionReason]int64 `json:"rejections_by_reason"`
	AverageDistance    float64                          `json:"average_distance"`
}

// matchTally keeps the match count and distance sum consistent with each
// other for Stats.
type matchTally struct {
	mu            sync.Mutex
	matches       int64
	totalDistance float64
}

func (t *matchTally) record(distance float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matches++
	t.totalDistance += distance
}

func (t *matchTally) snapshot() (int64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matches, t.totalDistance
}

// Dispatcher pairs queued requests with the nearest pooled provider. Any
// number of workers may run against the same dispatcher.
type Dispatcher struct {
	cfg     Config
	queue   *requestQueue
	pool    *providerPool
	clock   domain.Clock
	emitter Emitter
	logger  *zap.Logger
	tracer  trace.Tracer

	closed        atomic.Bool
	noProviders   atomic.Int64
	lockTimeouts  atomic.Int64
	tally         matchTally
}

// New constructs a Dispatcher. emitter and logger may be nil.
func New(cfg Config, clock domain.Clock, emitter Emitter, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = time.Second
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   newRequestQueue(),
		pool:    newProviderPool(),
		clock:   clock,
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer("dispatch.matching"),
	}
}

// Submit enqueues a request for matching. It never blocks.
func (d *Dispatcher) Submit(r domain.Request) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.queue.push(r)
	queueDepth.Inc()
	d.logger.Debug("request queued", zap.String("request_id", r.ID))
	return nil
}

// Close stops intake. Workers keep draining until their context ends.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

// AddProvider places a provider in the pool. It blocks only for the pool's
// critical section, bounded by ctx.
func (d *Dispatcher) AddProvider(ctx context.Context, p domain.Provider) error {
	if err := d.pool.acquire(ctx); err != nil {
		return fmt.Errorf("acquire pool: %w", err)
	}
	err := d.pool.addLocked(p)
	size := d.pool.sizeLocked()
	d.pool.release()
	if err != nil {
		return err
	}
	providersAvailable.Set(float64(size))
	d.logger.Debug("provider pooled", zap.String("provider_id", p.ID), zap.Int("pool_size", size))
	return nil
}

// WithdrawProvider removes an unmatched provider from the pool. It reports
// whether the provider was present.
func (d *Dispatcher) WithdrawProvider(ctx context.Context, id string) (bool, error) {
	if err := d.pool.acquire(ctx); err != nil {
		return false, fmt.Errorf("acquire pool: %w", err)
	}
	removed := d.pool.withdrawLocked(id)
	size := d.pool.sizeLocked()
	d.pool.release()
	providersAvailable.Set(float64(size))
	return removed, nil
}

// Run starts cfg.Workers named workers and blocks until all of them stop.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		name := fmt.Sprintf("dispatcher-%d", i+1)
		g.Go(func() error { return d.RunWorker(ctx, name) })
	}
	return g.Wait()
}

// RunWorker is one dispatcher loop. It returns nil once ctx is cancelled.
func (d *Dispatcher) RunWorker(ctx context.Context, name string) error {
	logger := d.logger.With(zap.String("dispatcher", name))
	logger.Info("dispatcher started")
	defer logger.Info("dispatcher stopped")
	for {
		req, err := d.queue.poll(ctx, d.cfg.PollTimeout)
		if errors.Is(err, errPollTimeout) {
			continue
		}
		if err != nil {
			return nil
		}
		queueDepth.Dec()
		if !d.dispatch(ctx, name, req, logger) {
			return nil
		}
	}
}

// dispatch handles one request. It returns false when shutdown interrupted
// the pool lock wait; the request is then put back at the head of the queue.
func (d *Dispatcher) dispatch(ctx context.Context, name string, req domain.Request, logger *zap.Logger) bool {
	ctx, span := d.tracer.Start(ctx, "dispatch.match", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("dispatcher", name),
	))
	defer span.End()

	start := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, d.cfg.LockTimeout)
	err := d.pool.acquire(lockCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			lockWaitSeconds.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
			d.queue.pushFront(req)
			queueDepth.Inc()
			return false
		}
		lockWaitSeconds.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		d.reject(ctx, name, req, domain.RejectLockTimeout, logger)
		return true
	}
	lockWaitSeconds.WithLabelValues("acquired").Observe(time.Since(start).Seconds())

	provider, distance, ok := d.pool.takeNearestLocked(req.Position)
	size := d.pool.sizeLocked()
	d.pool.release()

	if !ok {
		d.reject(ctx, name, req, domain.RejectNoProviders, logger)
		return true
	}
	providersAvailable.Set(float64(size))

	match := domain.Match{
		Request:    req,
		Provider:   provider,
		Distance:   distance,
		Dispatcher: name,
		MatchedAt:  d.clock.Now(),
	}
	d.tally.record(distance)
	matchesTotal.Inc()
	matchDistance.Observe(distance)
	span.SetAttributes(attribute.String("provider.id", provider.ID), attribute.Float64("distance", distance))

	logger.Info("request matched",
		zap.String("request_id", req.ID),
		zap.String("provider_id", provider.ID),
		zap.Float64("distance", distance),
	)
	d.emit(ctx, domain.Event{Type: domain.EventProviderMatched, Match: &match, At: match.MatchedAt})
	return true
}

func (d *Dispatcher) reject(ctx context.Context, name string, req domain.Request, reason domain.RejectionReason, logger *zap.Logger) {
	switch reason {
	case domain.RejectLockTimeout:
		d.lockTimeouts.Inc()
	default:
		d.noProviders.Inc()
	}
	rejectionsTotal.WithLabelValues(string(reason)).Inc()

	rejection := domain.Rejection{
		Request:    req,
		Reason:     reason,
		Dispatcher: name,
		RejectedAt: d.clock.Now(),
	}
	logger.Info("request rejected", zap.String("request_id", req.ID), zap.String("reason", string(reason)))
	d.emit(ctx, domain.Event{Type: domain.EventRequestRejected, Rejection: &rejection, At: rejection.RejectedAt})
}

func (d *Dispatcher) emit(ctx context.Context, evt domain.Event) {
	if d.emitter == nil {
		return
	}
	d.emitter.Emit(context.WithoutCancel(ctx), evt)
}

// Stats returns a snapshot. Reading the pool size needs the pool lock, so the
// call is bounded by ctx.
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	if err := d.pool.acquire(ctx); err != nil {
		return Stats{}, fmt.Errorf("acquire pool: %w", err)
	}
	size := d.pool.sizeLocked()
	d.pool.release()

	matches, totalDistance := d.tally.snapshot()
	noProviders := d.noProviders.Load()
	lockTimeouts := d.lockTimeouts.Load()
	stats := Stats{
		QueuedRequests:     d.queue.len(),
		AvailableProviders: size,
		Matches:            matches,
		Rejections:         noProviders + lockTimeouts,
		RejectionsByReason: map[domain.RejectionReason]int64{
			domain.RejectNoProviders: noProviders,
			domain.RejectLockTimeout: lockTimeouts,
		},
	}
	if matches > 0 {
		stats.AverageDistance = totalDistance / float64(matches)
	}
	return stats, nil
}

// Report logs a stats snapshot every interval until ctx is cancelled.
func (d *Dispatcher) Report(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		statsCtx, cancel := context.WithTimeout(ctx, interval)
		stats, err := d.Stats(statsCtx)
		cancel()
		if err != nil {
			d.logger.Warn("stats unavailable", zap.Error(err))
			continue
		}
		d.logger.Info("dispatch metrics",
			zap.Int("waiting_requests", stats.QueuedRequests),
			zap.Int("available_providers", stats.AvailableProviders),
			zap.Int64("matches", stats.Matches),
			zap.Int64("rejections", stats.Rejections),
			zap.Float64("average_distance", stats.AverageDistance),
		)
	}
}
