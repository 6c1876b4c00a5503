package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/evalflow/config"
	"github.com/BaSui01/evalflow/internal/lock"
	"github.com/BaSui01/evalflow/internal/metrics"
	"github.com/BaSui01/evalflow/session"
	"github.com/BaSui01/evalflow/simulation"
	"github.com/BaSui01/evalflow/store"
	"github.com/BaSui01/evalflow/types"
)

// Request runs the pending inputs of one golden set.
type Request struct {
	GoldenSetID uint   `json:"golden_set_id"`
	ModelName   string `json:"model_name"`
	SkipReview  bool   `json:"skip_review"`
	SkipEval    bool   `json:"skip_eval"`
}

// SessionStarter starts one evaluation session. *session.Manager satisfies it.
type SessionStarter interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Response, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker sets the golden-set locker. Defaults to an in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithConfig overrides the batch settings.
func WithConfig(cfg config.BatchConfig) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithCollector records per-item outcomes.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator simulates the pending inputs of a golden set in order and
// fans out one session start per appended output.
type Orchestrator struct {
	store     store.Store
	simulator simulation.Simulator
	sessions  SessionStarter
	locker    lock.Locker
	cfg       config.BatchConfig
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(st store.Store, sim simulation.Simulator, sessions SessionStarter, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:     st,
		simulator: sim,
		sessions:  sessions,
		cfg:       config.DefaultBatchConfig(),
		logger:    logger.With(zap.String("component", "batch_orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locker == nil {
		o.locker = lock.NewMemoryLocker()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("evalflow/batch")
	}
	if o.cfg.MaxConcurrentSessions <= 0 {
		o.cfg.MaxConcurrentSessions = 1
	}
	if o.cfg.LockTTL <= 0 {
		o.cfg.LockTTL = config.DefaultBatchConfig().LockTTL
	}
	return o
}

// ExecBatch simulates every input without an output, in position order, and
// starts a session for each appended output. Per-input failures are logged
// and never fail the batch; the returned error covers the setup (lock,
// golden set lookup, flag writes) and losing the golden-set lease midway.
// After the first failed input, later successful simulations are not
// appended, so outputs stay contiguous. Session starts outlive cancellation
// of ctx; ExecBatch still joins them before returning.
func (o *Orchestrator) ExecBatch(ctx context.Context, req Request) (ok bool, err error) {
	ctx, span := o.tracer.Start(ctx, "batch.exec", trace.WithAttributes(
		attribute.Int64("golden_set_id", int64(req.GoldenSetID)),
		attribute.String("model_name", req.ModelName),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if o.collector != nil {
			o.collector.RecordBatchRun(err)
		}
		span.End()
	}()

	lease, err := o.locker.TryLock(ctx, fmt.Sprintf("golden_set:%d", req.GoldenSetID), o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return false, types.Errorf(types.ErrConflict, "golden set %d already has a batch running", req.GoldenSetID).
				WithHTTPStatus(409)
		}
		return false, types.WrapError(err, types.ErrServiceUnavailable, "acquire golden set lock").WithHTTPStatus(503)
	}
	log := o.logger.With(zap.Uint("golden_set_id", req.GoldenSetID))
	// 心跳续租直到批量结束；租约丢失时 held 被取消
	held, stopHeartbeat := lock.KeepAlive(ctx, lease, o.cfg.LockTTL, log)
	defer func() {
		stopHeartbeat()
		lease.Release()
	}()

	gs, err := o.store.GetGoldenSet(ctx, req.GoldenSetID)
	if err != nil {
		return false, err
	}
	start, end := gs.PendingWindow()
	span.SetAttributes(attribute.Int("start_index", start), attribute.Int("total", end))

	// 会话启动不随调用方取消：已追加的输出必须有会话
	var g errgroup.Group
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentSessions))
	spawnCtx := context.WithoutCancel(ctx)

	if start == end {
		if o.cfg.StartSessionWhenIdle && len(gs.CopilotOutputs) > 0 {
			log.Info("no pending inputs, starting one session on existing data")
			o.spawnSession(spawnCtx, &g, sem, req, nil, log)
		} else {
			log.Info("no pending inputs")
		}
		_ = g.Wait()
		return true, nil
	}

	if err := o.store.SetInputsActive(ctx, gs.ID, start, end, true); err != nil {
		return false, err
	}
	log.Info("batch started", zap.Int("start_index", start), zap.Int("total", end))

	// 标志位清理不受调用方取消影响
	cleanupCtx := context.WithoutCancel(ctx)
	halted := false
	var appended, failed, dropped int
	var lost error
	for i := start; i < end; i++ {
		if lostLease(held) {
			lost = types.Errorf(types.ErrConflict, "golden set %d lock lost at position %d", gs.ID, i).WithHTTPStatus(409)
			log.Error("golden set lock lost, stopping batch", zap.Int("position", i))
			if err := o.store.SetInputsActive(cleanupCtx, gs.ID, i, end, false); err != nil {
				log.Error("clear is_active failed", zap.Int("position", i), zap.Error(err))
			}
			break
		}

		input := gs.UserInputs[i]
		res, simErr := o.simulate(held, gs, input)

		switch {
		case simErr != nil:
			failed++
			halted = true
			o.record(metrics.BatchFailed)
			log.Warn("simulation failed, continuing", zap.Int("position", i), zap.Error(simErr))
			o.deactivate(cleanupCtx, gs.ID, i, log)

		case halted || lostLease(held):
			// 前序输入失败或租约已丢失，不再追加
			dropped++
			o.record(metrics.BatchDropped)
			log.Warn("simulation succeeded but output dropped", zap.Int("position", i), zap.Bool("lease_lost", lostLease(held)))
			o.deactivate(cleanupCtx, gs.ID, i, log)

		default:
			if err := o.store.AppendCopilotOutput(cleanupCtx, gs.ID, i, res.EditableText); err != nil {
				failed++
				halted = true
				o.record(metrics.BatchFailed)
				log.Error("append copilot output failed", zap.Int("position", i), zap.Error(err))
				o.deactivate(cleanupCtx, gs.ID, i, log)
				continue
			}
			appended++
			o.record(metrics.BatchAppended)
			pos := i
			o.spawnSession(spawnCtx, &g, sem, req, &pos, log)
		}
	}

	_ = g.Wait()
	span.SetAttributes(
		attribute.Int("appended", appended),
		attribute.Int("failed", failed),
		attribute.Int("dropped", dropped),
	)
	log.Info("batch finished", zap.Int("appended", appended), zap.Int("failed", failed), zap.Int("dropped", dropped))
	if lost != nil {
		return false, lost
	}
	return true, nil
}

func lostLease(held context.Context) bool {
	return errors.Is(context.Cause(held), lock.ErrLeaseLost)
}

func (o *Orchestrator) simulate(ctx context.Context, gs *store.GoldenSet, input store.UserInput) (*simulation.Result, error) {
	ctx, span := o.tracer.Start(ctx, "batch.simulate", trace.WithAttributes(
		attribute.Int64("golden_set_id", int64(gs.ID)),
		attribute.Int("position", input.Position),
	))
	defer span.End()

	started := time.Now()
	res, err := o.simulator.Simulate(ctx, simulation.Request{
		ProjectID:     gs.ProjectID,
		GoldenSetID:   gs.ID,
		InputPosition: input.Position,
		Content:       input.Content,
	})
	if err == nil && (res == nil || res.EditableText == "") {
		err = simulation.ErrEmptyResult
	}
	if o.collector != nil {
		o.collector.RecordSimulation(err, time.Since(started))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// spawnSession starts a session in the background. The task never returns an
// error: failures and panics are logged so one input cannot affect another.
func (o *Orchestrator) spawnSession(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, req Request, pos *int, log *zap.Logger) {
	g.Go(func() (err error) {
		fields := []zap.Field{zap.Bool("default_position", pos == nil)}
		if pos != nil {
			fields = append(fields, zap.Int("position", *pos))
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error("session start panicked", append(fields, zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))...)
			}
			err = nil
		}()

		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn("session start abandoned", append(fields, zap.Error(err))...)
			return nil
		}
		defer sem.Release(1)

		resp, err := o.sessions.Start(ctx, session.StartRequest{
			GoldenSetID:   req.GoldenSetID,
			ModelName:     req.ModelName,
			SkipReview:    req.SkipReview,
			SkipEval:      req.SkipEval,
			InputPosition: pos,
		})
		if err != nil {
			log.Error("session start failed", append(fields, zap.Error(err))...)
			return nil
		}
		if o.collector != nil {
			o.collector.RecordSessionStart(resp.Status)
		}
		log.Info("session started",
			append(fields, zap.Uint("session_id", resp.SessionID), zap.String("status", string(resp.Status)))...)
		return nil
	})
}

func (o *Orchestrator) deactivate(ctx context.Context, goldenSetID uint, pos int, log *zap.Logger) {
	if err := o.store.SetInputsActive(ctx, goldenSetID, pos, pos+1, false); err != nil {
		log.Error("clear is_active failed", zap.Int("position", pos), zap.Error(err))
	}
}

func (o *Orchestrator) record(outcome metrics.BatchOutcome) {
	if o.collector != nil {
		o.collector.RecordBatchItem(outcome)
	}
}
