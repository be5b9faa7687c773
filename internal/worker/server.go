package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	Concurrency int
	// CompletionInterval is a cron spec such as "@every 15m".
	CompletionInterval string
}

// Server processes queued tasks and registers the periodic completion sweep.
type Server struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *slog.Logger
}

func NewServer(redis asynq.RedisConnOpt, cfg Config, svc Processor, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "worker"))
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.CompletionInterval == "" {
		cfg.CompletionInterval = "@every 15m"
	}

	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueCalendar: 6,
			QueueDefault:  3,
		},
		Logger:   asynqLogger{log: log},
		LogLevel: asynq.WarnLevel,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return retryDelay(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retry, _ := asynq.GetRetryCount(ctx)
			max, _ := asynq.GetMaxRetry(ctx)
			log.WarnContext(ctx, "task failed",
				slog.String("type", task.Type()),
				slog.Int("retry", retry),
				slog.Int("max_retry", max),
				slog.Any("err", err),
			)
		}),
	})

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{log: log},
		LogLevel: asynq.WarnLevel,
	})
	task, err := NewCompletePastTask(sweepBatch)
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(cfg.CompletionInterval, task); err != nil {
		return nil, fmt.Errorf("register completion sweep %q: %w", cfg.CompletionInterval, err)
	}

	return &Server{srv: srv, scheduler: scheduler, mux: NewServeMux(svc, log), log: log}, nil
}

// Start runs the processor and scheduler in the background.
func (s *Server) Start() error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.srv.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.log.Info("worker started")
	return nil
}

func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.srv.Shutdown()
	s.log.Info("worker stopped")
}

// retryDelay backs off exponentially from 30s and caps at one hour.
func retryDelay(n int) time.Duration {
	d := firstRetryDelay
	for i := 0; i < n && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// asynqLogger routes asynq's own messages into slog.
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
