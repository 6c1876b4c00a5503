// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/config"
	"github.com/BaSui01/evalflow/internal/metrics"
	"github.com/BaSui01/evalflow/internal/tlsutil"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Option 配置 Manager
type Option func(*Manager)

// WithCollector 记录命中与未命中
func WithCollector(c *metrics.Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithDefaultTTL ttl <= 0 的写入使用该值
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// Manager 缓存管理器
type Manager struct {
	client     *redis.Client
	cfg        config.RedisConfig
	prefix     string
	defaultTTL time.Duration
	collector  *metrics.Collector
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewManager 连接 Redis 并在 HealthCheckInterval > 0 时启动健康检查
func NewManager(cfg config.RedisConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		TLSConfig:    tlsutil.RedisTLSConfig(cfg.TLSEnabled),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "evalflow"
	}
	m := &Manager{
		client:     client,
		cfg:        cfg,
		prefix:     prefix + ":cache:",
		defaultTTL: time.Minute,
		logger:     logger.With(zap.String("component", "cache")),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.HealthCheckInterval > 0 {
		go m.healthCheckLoop(cfg.HealthCheckInterval)
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("tls", cfg.TLSEnabled),
	)
	return m, nil
}

// Client 返回底层客户端，生命周期归 Manager 所有
func (m *Manager) Client() redis.UniversalClient {
	return m.client
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// GetJSON 读取并反序列化缓存值，未命中返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	val, err := m.client.Get(ctx, m.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		m.miss()
		return ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		m.miss()
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	if m.collector != nil {
		m.collector.RecordCacheHit("redis")
	}
	return nil
}

// SetJSON 序列化并写入缓存
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if err := m.client.Set(ctx, m.prefix+key, data, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete 删除缓存值
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = m.prefix + k
	}
	if err := m.client.Del(ctx, full...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Close 停止健康检查并关闭连接，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.logger.Info("closing cache manager")
	return m.client.Close()
}

func (m *Manager) miss() {
	if m.collector != nil {
		m.collector.RecordCacheMiss("redis")
	}
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					cancel()
					return
				}
				m.logger.Error("cache health check failed", zap.Error(err))
			} else {
				m.logger.Debug("cache health check passed")
			}
			cancel()
		}
	}
}
