package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrJobTimeout is returned when no result arrives within the job timeout.
var ErrJobTimeout = errors.New("simulation: distributed job timed out")

// RedisBackend is a Backend over Redis lists. Jobs are pushed to
// <prefix>:jobs:<namespace>; an external worker pushes the JobStatus to
// <prefix>:results:<job_id>.
type RedisBackend struct {
	client    redis.UniversalClient
	prefix    string
	resultTTL time.Duration
	logger    *zap.Logger
}

// NewRedisBackend creates the backend.
func NewRedisBackend(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "evalflow"
	}
	return &RedisBackend{
		client:    client,
		prefix:    prefix,
		resultTTL: time.Hour,
		logger:    logger.With(zap.String("component", "redis_job_backend")),
	}
}

// QueueKey returns the job list of a namespace.
func (b *RedisBackend) QueueKey(namespace string) string {
	return fmt.Sprintf("%s:jobs:%s", b.prefix, namespace)
}

// ResultKey returns the result list of a job.
func (b *RedisBackend) ResultKey(jobID string) string {
	return fmt.Sprintf("%s:results:%s", b.prefix, jobID)
}

func (b *RedisBackend) Submit(ctx context.Context, spec JobSpec, namespace string, timeout time.Duration) (*JobStatus, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	if err := b.client.LPush(ctx, b.QueueKey(namespace), payload).Err(); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	b.logger.Debug("job submitted", zap.String("job_id", spec.ID), zap.String("namespace", namespace))

	vals, err := b.client.BLPop(ctx, timeout, b.ResultKey(spec.ID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w after %s (job %s)", ErrJobTimeout, timeout, spec.ID)
		}
		return nil, fmt.Errorf("await job %s: %w", spec.ID, err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("await job %s: unexpected reply", spec.ID)
	}

	var status JobStatus
	if err := json.Unmarshal([]byte(vals[1]), &status); err != nil {
		return nil, fmt.Errorf("decode job %s result: %w", spec.ID, err)
	}
	return &status, nil
}

// Complete publishes a job result. Workers written in Go use it; it is also
// how tests drive the backend.
func (b *RedisBackend) Complete(ctx context.Context, jobID string, status JobStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	key := b.ResultKey(jobID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, b.resultTTL)
	_, err = pipe.Exec(ctx)
	return err
}
