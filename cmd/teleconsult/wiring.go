package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/config"
	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/persistence/memory"
	"github.com/example/teleconsult/internal/persistence/postgres"
	"github.com/example/teleconsult/internal/persistence/sqlite"
	"github.com/example/teleconsult/internal/push"
	"github.com/example/teleconsult/internal/sweep"
)

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	case config.StorePostgres:
		storage, err := postgres.Open(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return storage, nil
	default:
		storage, err := sqlite.Open(cfg.SQLiteDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return storage, nil
	}
}

// backplane groups the pieces that move work between processes: the job
// queue, the chat fan-out and the push transport. Without NATS every piece is
// in-process.
type backplane struct {
	Queue  jobs.Queue
	Fanout chat.Fanout
	Sender push.Sender

	nc     *nats.Conn
	logger *slog.Logger
}

func newBackplane(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backplane, error) {
	if cfg.NATSURL == "" {
		return &backplane{
			Queue: jobs.NewMemoryQueue(jobs.MemoryOptions{
				Workers: cfg.Workers,
				Logger:  logger,
				NewID:   uuid.NewString,
			}),
			Fanout: chat.NewLocalFanout(),
			Sender: push.NewLogSender(logger),
			logger: logger,
		}, nil
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("teleconsult"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	queue, err := jobs.NewJetStreamQueue(ctx, nc, jobs.JetStreamOptions{Logger: logger, NewID: uuid.NewString})
	if err != nil {
		nc.Close()
		return nil, err
	}
	logger.Info("connected to nats", "url", nc.ConnectedUrl())
	return &backplane{
		Queue:  queue,
		Fanout: chat.NewNATSFanout(nc, logger),
		Sender: push.NewNATSSender(nc, push.DefaultSubject, 10*time.Second),
		nc:     nc,
		logger: logger,
	}, nil
}

// Close stops the queue and drains the NATS connection. The fan-out is closed
// by the chat broker.
func (b *backplane) Close() {
	if err := b.Queue.Close(); err != nil {
		b.logger.Error("failed to close job queue", "error", err)
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.logger.Error("failed to drain nats connection", "error", err)
		}
	}
}

func newLease(ctx context.Context, cfg config.Config, logger *slog.Logger) (sweep.Lease, func(), error) {
	if cfg.RedisAddr == "" {
		return sweep.NewLocalLease(time.Now), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("using redis sweep lease", "addr", cfg.RedisAddr)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}
	return sweep.NewRedisLease(client, ""), closeFn, nil
}

func newRunners(
	cfg config.Config,
	lease sweep.Lease,
	logger *slog.Logger,
	consultations *application.ConsultationService,
	reminders *application.ReminderService,
	notifications *application.NotificationService,
) ([]*sweep.Runner, error) {
	specs := []sweep.Options{
		{
			Name:     "consultation-lifecycle",
			Interval: cfg.ConsultationSweep,
			Task: func(ctx context.Context) error {
				_, err := consultations.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "reminder-dispatch",
			Interval: cfg.ReminderSweep,
			Task: func(ctx context.Context) error {
				_, err := reminders.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "notification-dispatch",
			Interval: cfg.NotificationSweep,
			Task: func(ctx context.Context) error {
				_, err := notifications.Sweep(ctx)
				return err
			},
		},
	}

	runners := make([]*sweep.Runner, 0, len(specs))
	for _, opts := range specs {
		opts.Lease = lease
		opts.Logger = logger
		runner, err := sweep.NewRunner(opts)
		if err != nil {
			return nil, fmt.Errorf("sweep %s: %w", opts.Name, err)
		}
		runners = append(runners, runner)
	}
	return runners, nil
}
