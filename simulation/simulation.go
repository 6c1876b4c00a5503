package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/evalflow/config"
	"github.com/BaSui01/evalflow/job"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrEmptyResult is returned when a strategy succeeds without text.
var ErrEmptyResult = errors.New("simulation: result has no editable text")

// Request identifies one input to simulate.
type Request struct {
	ProjectID     string `json:"project_id"`
	GoldenSetID   uint   `json:"golden_set_id"`
	InputPosition int    `json:"input_position"`
	Content       string `json:"content"`
}

// Result is the normalized simulation output.
type Result struct {
	EditableText string `json:"editable_text"`
}

// Strategy produces one simulated copilot response.
type Strategy interface {
	Name() string
	Simulate(ctx context.Context, req Request) (*Result, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req Request) (*Result, error)

func (f StrategyFunc) Name() string { return "func" }

func (f StrategyFunc) Simulate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Simulator is what the batch orchestrator depends on.
type Simulator interface {
	Simulate(ctx context.Context, req Request) (*Result, error)
}

// Executor runs a Strategy through a job.Runner.
type Executor struct {
	strategy Strategy
	timeout  time.Duration
	hook     job.SettleHook
	logger   *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-simulation wait timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithSettleHook observes every runner settlement.
func WithSettleHook(h job.SettleHook) ExecutorOption {
	return func(e *Executor) { e.hook = h }
}

// NewExecutor creates an executor around strategy.
func NewExecutor(strategy Strategy, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		strategy: strategy,
		timeout:  job.DefaultTimeout,
		logger:   logger.With(zap.String("component", "simulation_executor"), zap.String("strategy", strategy.Name())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewExecutorFromConfig picks the strategy once from cfg.UseDistributedJobs.
// The redis client is required only for the distributed strategy.
func NewExecutorFromConfig(cfg config.SimulationConfig, rdb redis.UniversalClient, logger *zap.Logger, opts ...ExecutorOption) (*Executor, error) {
	var strategy Strategy
	if cfg.UseDistributedJobs {
		if rdb == nil {
			return nil, fmt.Errorf("simulation: distributed jobs require redis")
		}
		backend := NewRedisBackend(rdb, cfg.QueuePrefix, logger)
		strategy = NewJobStrategy(backend, JobStrategyConfig{
			Script:       cfg.JobScript,
			Namespace:    cfg.JobNamespace,
			TransportURL: cfg.TransportURL,
			Timeout:      cfg.JobTimeout,
		}, logger)
	} else {
		strategy = NewTransportStrategy(TransportConfig{URL: cfg.TransportURL}, logger)
	}
	return NewExecutor(strategy, logger, append([]ExecutorOption{WithTimeout(cfg.Timeout)}, opts...)...), nil
}

// Strategy returns the configured strategy.
func (e *Executor) Strategy() Strategy {
	return e.strategy
}

// Simulate runs one simulation. A timed-out or abandoned wait stops the
// runner, which tears down the in-process transport.
func (e *Executor) Simulate(ctx context.Context, req Request) (*Result, error) {
	name := "simulation." + e.strategy.Name()
	r := job.New(name, func(ctx context.Context) (*Result, error) {
		return e.strategy.Simulate(ctx, req)
	}, job.WithLogger(e.logger), job.WithSettleHook(e.hook))

	res, err := r.Run(ctx, e.timeout)
	if err != nil {
		if errors.Is(err, job.ErrTimeout) || ctx.Err() != nil {
			r.Stop()
		}
		e.logger.Warn("simulation failed",
			zap.Uint("golden_set_id", req.GoldenSetID),
			zap.Int("position", req.InputPosition),
			zap.Error(err))
		return nil, err
	}
	if res == nil || res.EditableText == "" {
		return nil, ErrEmptyResult
	}
	return res, nil
}
