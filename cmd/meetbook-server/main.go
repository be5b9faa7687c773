package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"meetbook/backend/internal/auth"
	"meetbook/backend/internal/busycache"
	"meetbook/backend/internal/calendar"
	"meetbook/backend/internal/config"
	"meetbook/backend/internal/notify"
	"meetbook/backend/internal/observability"
	"meetbook/backend/internal/service/booking"
	"meetbook/backend/internal/service/catalog"
	"meetbook/backend/internal/store/sqlstore"
	grpcTransport "meetbook/backend/internal/transport/grpc"
	httpTransport "meetbook/backend/internal/transport/http"
	"meetbook/backend/internal/worker"
)

const serviceName = "meetbook-server"

var version = "dev"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
	})
	if err != nil {
		log.Error("telemetry setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.Any("err", err))
		}
	}()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseDriver, cfg.DatabaseURL)...)
	db, err := sqlstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL, sqlstore.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseDriver, cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := sqlstore.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()
	if err := sqlstore.Migrate(ctx, db); err != nil {
		log.Error("database migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	st := sqlstore.NewStore(db)

	var (
		redisClient *redis.Client
		cacheStore  busycache.Store = busycache.NewMemoryStore(time.Now)
		notifier    notify.Notifier = notify.NewLogNotifier(log)
		retries     booking.RetryQueue
		asynqClient *asynq.Client
	)
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("redis connection failed", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
			os.Exit(1)
		}
		defer func() { _ = redisClient.Close() }()

		cacheStore = busycache.NewRedisStore(redisClient)
		notifier = notify.NewRedisNotifier(redisClient)
		asynqClient = asynq.NewClient(redisOpt)
		defer func() { _ = asynqClient.Close() }()
		retries = worker.NewQueue(asynqClient, log)
	} else {
		log.Warn("no redis configured; using in-process cache and no retry queue")
	}

	var (
		provider  calendar.Provider = calendar.DisabledProvider{}
		connector catalog.Connector
	)
	if cfg.CalendarConfigured() {
		google := calendar.NewGoogleProvider(calendar.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, st, log)
		provider = google
		connector = google
	} else {
		log.Warn("google calendar not configured; bookings cannot be confirmed against a calendar")
	}

	busy, err := busycache.New(cacheStore, provider, busycache.Config{
		BusyTTL:       cfg.BusyTTL,
		CalendarsTTL:  cfg.CalendarsTTL,
		GracePeriod:   cfg.GracePeriod,
		Timeout:       cfg.ProviderTimeout,
		Retries:       cfg.ProviderRetries,
		RatePerMinute: cfg.ProviderRatePerMinute,
	}, log)
	if err != nil {
		log.Error("busy cache setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	dispatcher := calendar.NewDispatcher(provider, busy, cfg.PublicBaseURL, cfg.ProviderTimeout, log)

	bookings := booking.NewService(st, busy, dispatcher, notifier, retries, booking.Options{
		CancelCutoff:  cfg.CancelCutoff,
		LookaheadDays: cfg.LookaheadDays,
	}, log)
	admin := catalog.NewService(st, busy, connector, log)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL, nil)
	if err != nil {
		log.Error("auth setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcTransport.RequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
			grpcTransport.AuthInterceptor(verifier, log),
		),
	)
	grpcTransport.RegisterSchedulingServiceServer(grpcServer, grpcTransport.NewSchedulingServer(bookings, admin, verifier, log))

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpTransport.NewRouter(httpTransport.NewHandler(bookings, admin, verifier, log), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var bg *worker.Server
	if cfg.RedisAddr != "" {
		bg, err = worker.NewServer(redisOpt, worker.Config{
			Concurrency:        cfg.WorkerConcurrency,
			CompletionInterval: cfg.WorkerCompletionInterval,
		}, bookings, log)
		if err == nil {
			err = bg.Start()
		}
		if err != nil {
			log.Error("worker start failed", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		go completeInProcess(ctx, log, bookings, cfg.WorkerCompletionInterval)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("servers started", slog.String("grpc_addr", cfg.GRPCAddr), slog.String("http_addr", cfg.HTTPAddr))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	shutdown(log, grpcServer, httpServer, cfg.ShutdownTimeout)
	if bg != nil {
		bg.Shutdown()
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, h *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		log.Warn("http shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

// completeInProcess runs the completion sweep on a ticker when no task queue
// is available. Only "@every <duration>" specs are understood here.
func completeInProcess(ctx context.Context, log *slog.Logger, svc *booking.Service, spec string) {
	interval, err := time.ParseDuration(strings.TrimPrefix(spec, "@every "))
	if err != nil || interval <= 0 {
		log.Warn("completion sweep disabled", slog.String("spec", spec))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.CompletePast(ctx, 200); err != nil {
				log.Error("completion sweep failed", slog.Any("err", err))
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(driver, databaseURL string) []any {
	if driver == sqlstore.DriverSQLite {
		return []any{slog.String("db_driver", driver)}
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_driver", driver),
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
