package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"salesrecord/internal/amqp"
	"salesrecord/internal/storage"
	"salesrecord/internal/store/memory"
	"salesrecord/internal/store/redis"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *BackendResult
		err error
	)
	switch config.Type {
	case MemoryBackend:
		res, err = f.createMemoryBackend(config)
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(config)
	case RedisBackend:
		res, err = f.createRedisBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	f.attachPublisher(res, config)
	return res, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	st, err := memory.NewFromFile(config.SeedFile, config.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)

	return &BackendResult{Store: st}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, config.SQLitePollInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"poll_interval", config.SQLitePollInterval)

	return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createRedisBackend(ctx context.Context, config Config) (*BackendResult, error) {
	st, err := redis.Open(ctx, config.RedisURL, config.RedisLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis store: %w", err)
	}

	f.logger.Info("Initialized Redis backend", "lock_ttl", config.RedisLockTTL)

	return &BackendResult{Store: st, Cleanup: st.Close}, nil
}

// attachPublisher connects the optional change publisher. A broker that is
// down at startup disables publishing instead of failing the backend.
func (f *DefaultFactory) attachPublisher(res *BackendResult, config Config) {
	if config.AMQPURL == "" {
		return
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without change events", "error", err)
		return
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	res.Publisher = client
	storeCleanup := res.Cleanup
	res.Cleanup = func() error {
		err := client.Close()
		if storeCleanup != nil {
			err = errors.Join(err, storeCleanup())
		}
		return err
	}
}

// Close runs the cleanup, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}
