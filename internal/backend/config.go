package backend

import (
	"errors"
	"fmt"

	"salesrecord/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:       backendType,
		SeedFile:   appConfig.SeedFile,
		Collection: appConfig.Collection,

		SQLiteDBPath:       appConfig.SQLiteDBPath,
		SQLitePollInterval: appConfig.SQLitePollInterval,

		RedisURL:     appConfig.RedisURL,
		RedisLockTTL: appConfig.RedisLockTTL,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("SQLite database path is required for sqlite backend")
		}
	case RedisBackend:
		if c.RedisURL == "" {
			return errors.New("Redis URL is required for redis backend")
		}
	case MemoryBackend:
		if c.SeedFile != "" && c.Collection == "" {
			return errors.New("collection is required to seed the memory backend")
		}
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, RedisBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
