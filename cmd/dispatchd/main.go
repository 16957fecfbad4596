package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/example/ridematch/internal/dispatch/domain"
	dispatchhttp "github.com/example/ridematch/internal/dispatch/handler"
	"github.com/example/ridematch/internal/dispatch/matching"
	"github.com/example/ridematch/internal/events"
	intake "github.com/example/ridematch/internal/http/middleware"
	"github.com/example/ridematch/internal/ingest"
	"github.com/example/ridematch/internal/search/cache"
	searchhttp "github.com/example/ridematch/internal/search/handler"
	"github.com/example/ridematch/internal/search/source"
	"github.com/example/ridematch/pkg/observability"
)

type appConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	RedisAddr       string
	NATSURL         string
	NATSSubject     string
	Workers         int
	PollTimeout     time.Duration
	LockTimeout     time.Duration
	CacheTTL        time.Duration
	SweepInterval   time.Duration
	ReportInterval  time.Duration
	EventLogMax     int
	SearchKeyPrefix string
	SearchLatency   time.Duration
	ThrottleRead    int
	ThrottleWrite   int
	ThrottleWindow  time.Duration
	LogLevel        string
	TraceStdout     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	logger := observability.SetupLogger("dispatchd", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	var traceOut io.Writer
	if cfg.TraceStdout {
		traceOut = os.Stdout
	}
	shutdown, err := observability.SetupTracer(ctx, "dispatchd", traceOut)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("dispatchd")); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	bus := events.NewBus(logger.Named("events"))
	bus.Attach("log", events.NewLogPublisher(logger.Named("events")))
	if natsConn != nil {
		bus.Attach("nats", events.NewNATSPublisher(natsConn, cfg.NATSSubject))
	}
	var recorder *events.RedisRecorder
	if redisClient != nil {
		recorder = events.NewRedisRecorder(redisClient, "", int64(cfg.EventLogMax))
		bus.Attach("redis", recorder)
	}

	clock := domain.SystemClock{}
	dispatcher := matching.New(matching.Config{
		Workers:     cfg.Workers,
		PollTimeout: cfg.PollTimeout,
		LockTimeout: cfg.LockTimeout,
	}, clock, bus, logger.Named("dispatcher"))

	searchCache := cache.New(cache.Config{
		TTL:           cfg.CacheTTL,
		SweepInterval: cfg.SweepInterval,
	}, buildProducer(redisClient, cfg), clock, bus, logger.Named("cache"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(intake.NewThrottle(redisClient, intake.ThrottleConfig{
		ReadLimit:  int64(cfg.ThrottleRead),
		WriteLimit: int64(cfg.ThrottleWrite),
		Window:     cfg.ThrottleWindow,
	}, clock, logger.Named("throttle")).Middleware)
	dispatchHTTP := dispatchhttp.NewHTTP(dispatcher)
	searchHTTP := searchhttp.NewHTTP(searchCache)
	if redisClient != nil {
		dispatchHTTP.WithEventLog(recorder)
		searchHTTP.WithSeeder(source.NewRedis(redisClient, cfg.SearchKeyPrefix))
	}
	dispatchHTTP.Routes(r)
	searchHTTP.Routes(r)
	r.Mount("/observability", observability.MetricsRouter(readiness(redisClient)))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	grpcSrv := grpc.NewServer(grpc.ForceServerCodec(ingest.Codec{}))
	ingest.Register(grpcSrv, ingest.NewServer(dispatcher, logger.Named("ingest")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return ignoreCanceled(dispatcher.Report(gctx, cfg.ReportInterval)) })
	g.Go(func() error { return ignoreCanceled(searchCache.Run(gctx)) })
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("ingest grpc listening", zap.String("addr", lis.Addr().String()))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		dispatcher.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("dispatchd stopped", zap.Error(err))
	}
	if stats, err := dispatcher.Stats(context.Background()); err == nil {
		logger.Info("final stats",
			zap.Int64("matches", stats.Matches),
			zap.Int64("rejections", stats.Rejections),
			zap.Int("queued", stats.QueuedRequests),
			zap.Int("providers", stats.AvailableProviders),
		)
	}
}

func buildProducer(redisClient *redis.Client, cfg appConfig) cache.Producer {
	if redisClient == nil {
		return source.NewStatic(cfg.SearchLatency).Fetch
	}
	return source.NewRedis(redisClient, cfg.SearchKeyPrefix).Fetch
}

func readiness(redisClient *redis.Client) func(context.Context) error {
	if redisClient == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getenv("GRPC_ADDR", ":9090"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		NATSURL:         os.Getenv("NATS_URL"),
		NATSSubject:     getenv("NATS_SUBJECT", "dispatch.events"),
		Workers:         parseIntEnv("DISPATCH_WORKERS", 3),
		PollTimeout:     time.Duration(parseIntEnv("DISPATCH_POLL_TIMEOUT_MS", 1000)) * time.Millisecond,
		LockTimeout:     time.Duration(parseIntEnv("DISPATCH_LOCK_TIMEOUT_MS", 1000)) * time.Millisecond,
		CacheTTL:        time.Duration(parseIntEnv("CACHE_TTL_SEC", 5)) * time.Second,
		SweepInterval:   time.Duration(parseIntEnv("CACHE_SWEEP_SEC", 3)) * time.Second,
		ReportInterval:  time.Duration(parseIntEnv("REPORT_INTERVAL_SEC", 3)) * time.Second,
		EventLogMax:     parseIntEnv("EVENT_LOG_MAX", 1000),
		SearchKeyPrefix: os.Getenv("SEARCH_KEY_PREFIX"),
		SearchLatency:   time.Duration(parseIntEnv("SEARCH_LATENCY_MS", 100)) * time.Millisecond,
		ThrottleRead:    parseIntEnv("THROTTLE_READ_PER_WINDOW", 0),
		ThrottleWrite:   parseIntEnv("THROTTLE_WRITE_PER_WINDOW", 0),
		ThrottleWindow:  time.Duration(parseIntEnv("THROTTLE_WINDOW_MS", 1000)) * time.Millisecond,
		LogLevel:        getenv("LOG_LEVEL", "info"),
		TraceStdout:     parseBoolEnv("TRACE_STDOUT", false),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}
