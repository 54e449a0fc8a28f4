package backend

import (
	"context"
	"time"

	"salesrecord/internal/amqp"
	"salesrecord/internal/store"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// BackendResult contains the store and the optional change publisher.
type BackendResult struct {
	Store store.RecordStore
	// Publisher is nil when AMQP is disabled or unreachable at startup.
	Publisher *amqp.Client
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Memory
	SeedFile   string
	Collection string

	// SQLite
	SQLiteDBPath       string
	SQLitePollInterval time.Duration

	// Redis
	RedisURL     string
	RedisLockTTL time.Duration

	// AMQP, optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	RedisBackend  BackendType = "redis"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, RedisBackend:
		return true
	default:
		return false
	}
}
