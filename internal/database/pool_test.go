package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/evalflow/config"
	"github.com/BaSui01/evalflow/internal/metrics"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return mock, gormDB
}

var testPool = PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}

func TestNewPoolManager(t *testing.T) {
	_, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_Rejects(t *testing.T) {
	_, err := NewPoolManager(nil, testPool, zap.NewNop())
	assert.Error(t, err)

	_, gormDB := setupTestDB(t)
	_, err = NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_CheckOnceRecordsConnections(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())

	manager, err := NewPoolManager(gormDB, testPool, zap.NewNop(), WithCollector(collector, "primary"))
	require.NoError(t, err)

	mock.ExpectPing()
	manager.checkOnce()

	count, err := testutil.GatherAndCount(reg, "test_db_connections_open", "test_db_connections_idle")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	t.Run("retries deadlock then succeeds", func(t *testing.T) {
		mock, gormDB := setupTestDB(t)
		manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		attempts := 0
		err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
			attempts++
			if attempts == 1 {
				return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-retryable error returns immediately", func(t *testing.T) {
		mock, gormDB := setupTestDB(t)
		manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectRollback()

		attempts := 0
		err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
			attempts++
			return errors.New("duplicate key value violates unique constraint")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		mock, gormDB := setupTestDB(t)
		manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectRollback()

		err = manager.WithTransactionRetry(context.Background(), 2, func(tx *gorm.DB) error {
			return errors.New("database is locked")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 retries")
	})
}

func TestPoolManager_Close(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	manager, err := NewPoolManager(gormDB, testPool, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }), ErrPoolClosed)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}, false},
		{"zero open", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"zero idle", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle exceeds open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigFrom(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.MaxOpenConns = 40
	cfg.MaxIdleConns = 8
	pc := PoolConfigFrom(cfg)
	assert.Equal(t, 40, pc.MaxOpenConns)
	assert.Equal(t, 8, pc.MaxIdleConns)

	cfg.Driver = "sqlite"
	pc = PoolConfigFrom(cfg)
	assert.Equal(t, 1, pc.MaxOpenConns)
	assert.Equal(t, 1, pc.MaxIdleConns)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("Deadlock found when trying to get lock")))
	assert.True(t, isRetryableError(errors.New("pq: could not serialize access (SQLSTATE 40001)")))
	assert.True(t, isRetryableError(errors.New("driver: bad connection")))
	assert.False(t, isRetryableError(errors.New("record not found")))
}
