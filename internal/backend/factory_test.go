package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesrecord/internal/config"
	"salesrecord/internal/storage"
	"salesrecord/internal/store/memory"
)

func TestFromAppConfig(t *testing.T) {
	cfg := &config.Config{
		DataBackend:        "sqlite",
		Collection:         "sales",
		SQLiteDBPath:       "/tmp/x.db",
		SQLitePollInterval: time.Second,
		AMQPURL:            "amqp://localhost",
		AMQPExchange:       "ex",
		AMQPQueue:          "q",
	}

	got, err := FromAppConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, got.Type)
	assert.Equal(t, "/tmp/x.db", got.SQLiteDBPath)
	assert.Equal(t, time.Second, got.SQLitePollInterval)
	assert.Equal(t, "amqp://localhost", got.AMQPURL)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)

	_, err = FromAppConfig(nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Type: MemoryBackend}},
		{name: "memory seed without collection", cfg: Config{Type: MemoryBackend, SeedFile: "seed.json"}, wantErr: true},
		{name: "sqlite without path", cfg: Config{Type: SQLiteBackend}, wantErr: true},
		{name: "redis without url", cfg: Config{Type: RedisBackend}, wantErr: true},
		{name: "unknown", cfg: Config{Type: "csv"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	assert.Equal(t, []string{"memory", "sqlite", "redis"}, GetBackendTypeStrings())
}

func TestCreateMemoryBackendWithSeed(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`[
		{"id":"a","date":"2024-03-09","clientName":"Kofi","location":"Accra","amountOnInvoice":"1000","amountPaid":"600","createdAt":1}
	]`), 0o600))

	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:       MemoryBackend,
		SeedFile:   seed,
		Collection: "sales",
	})
	require.NoError(t, err)
	defer res.Close()

	assert.IsType(t, &memory.Store{}, res.Store)
	assert.Nil(t, res.Publisher)

	rec, err := res.Store.Get(context.Background(), "sales", "a")
	require.NoError(t, err)
	assert.Equal(t, "400", rec.Balance.String())
	assert.Equal(t, 2024, rec.Year)
}

func TestCreateSQLiteBackend(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:               SQLiteBackend,
		SQLiteDBPath:       filepath.Join(t.TempDir(), "data", "sales.db"),
		SQLitePollInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteRepository{}, res.Store)
	require.NotNil(t, res.Cleanup)
	assert.NoError(t, res.Close())
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend})
	assert.Error(t, err)
}

func TestCloseWithoutCleanup(t *testing.T) {
	var res *BackendResult
	assert.NoError(t, res.Close())
	assert.NoError(t, (&BackendResult{}).Close())
}
