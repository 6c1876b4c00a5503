package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/engine"
	"github.com/BaSui01/evalflow/internal/lock"
	"github.com/BaSui01/evalflow/store"
	"github.com/BaSui01/evalflow/types"
)

// StartRequest starts one session on a golden set.
type StartRequest struct {
	GoldenSetID uint   `json:"golden_set_id"`
	ModelName   string `json:"model_name"`
	SkipReview  bool   `json:"skip_review"`
	SkipEval    bool   `json:"skip_eval"`
	// InputPosition selects the input/output pair; nil means the first pair.
	InputPosition *int `json:"input_position,omitempty"`
}

// RubricReviewRequest resolves a rubric review pause.
type RubricReviewRequest struct {
	SessionID     uint                   `json:"session_id"`
	ThreadID      string                 `json:"thread_id"`
	Approved      bool                   `json:"approved"`
	Modifications []types.Criterion      `json:"modifications,omitempty"`
	Patches       []types.CriterionPatch `json:"patches,omitempty"`
	Feedback      string                 `json:"feedback,omitempty"`
	ReviewerID    string                 `json:"reviewer_id,omitempty"`
}

// HumanEvaluationRequest resolves a human evaluation pause. Exactly one of
// Scores and AnswerPatches is used; Scores wins when both are set.
type HumanEvaluationRequest struct {
	SessionID         uint                `json:"session_id"`
	ThreadID          string              `json:"thread_id"`
	Scores            []types.Answer      `json:"scores,omitempty"`
	AnswerPatches     []types.AnswerPatch `json:"answer_patches,omitempty"`
	OverallAssessment string              `json:"overall_assessment,omitempty"`
	EvaluatorID       string              `json:"evaluator_id,omitempty"`
}

// Response is returned by every mutating operation.
type Response struct {
	SessionID   uint                `json:"session_id"`
	ThreadID    string              `json:"thread_id"`
	Status      types.SessionStatus `json:"status"`
	DraftRubric []types.Criterion   `json:"draft_rubric,omitempty"`
	FinalRubric []types.Criterion   `json:"final_rubric,omitempty"`
	FinalReport *types.Report       `json:"final_report,omitempty"`
	Message     string              `json:"message"`
}

// State is the read model of a session.
type State struct {
	SessionID       uint                `json:"session_id"`
	Status          types.SessionStatus `json:"status"`
	ThreadID        string              `json:"thread_id"`
	DraftRubric     []types.Criterion   `json:"draft_rubric,omitempty"`
	FinalRubric     []types.Criterion   `json:"final_rubric,omitempty"`
	AgentEvaluation *types.Evaluation   `json:"agent_evaluation,omitempty"`
	HumanEvaluation *types.Evaluation   `json:"human_evaluation,omitempty"`
	FinalReport     *types.Report       `json:"final_report,omitempty"`
}

// StateCache caches State snapshots. cache.Manager satisfies it.
type StateCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// TransitionHook observes every persisted status change.
type TransitionHook func(from, to types.SessionStatus)

// Option configures a Manager.
type Option func(*Manager)

// WithLocker sets the per-session locker. Defaults to an in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithStateCache enables State snapshot caching. Only sessions in a terminal
// status are cached; those never change again.
func WithStateCache(c StateCache, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cache = c
		m.cacheTTL = ttl
	}
}

// WithProvider sets the provider passed to the engine.
func WithProvider(provider string) Option {
	return func(m *Manager) { m.provider = provider }
}

// WithDefaultModel is used when a start request names no model.
func WithDefaultModel(model string) Option {
	return func(m *Manager) { m.defaultModel = model }
}

// WithTransitionHook registers a status transition observer.
func WithTransitionHook(h TransitionHook) Option {
	return func(m *Manager) { m.onTransition = h }
}

// Manager drives evaluation sessions through the workflow engine.
type Manager struct {
	store        store.Store
	engine       engine.Engine
	locker       lock.Locker
	lockTTL      time.Duration
	cache        StateCache
	cacheTTL     time.Duration
	provider     string
	defaultModel string
	onTransition TransitionHook
	logger       *zap.Logger
	now          func() time.Time
}

// NewManager creates a session manager.
func NewManager(st store.Store, eng engine.Engine, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:   st,
		engine:  eng,
		lockTTL: 10 * time.Minute,
		logger:  logger.With(zap.String("component", "session_manager")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locker == nil {
		m.locker = lock.NewMemoryLocker()
	}
	if m.cacheTTL <= 0 {
		m.cacheTTL = 30 * time.Second
	}
	return m
}

// Start creates a session for one input/output pair and invokes the engine once.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Response, error) {
	gs, err := m.store.GetGoldenSet(ctx, req.GoldenSetID)
	if err != nil {
		return nil, err
	}
	pos := 0
	if req.InputPosition != nil {
		pos = *req.InputPosition
	}
	if pos < 0 || pos >= len(gs.CopilotOutputs) || pos >= len(gs.UserInputs) {
		return nil, types.NewInvalidRequestError(
			fmt.Sprintf("golden set %d has no copilot output at position %d", gs.ID, pos))
	}
	model := req.ModelName
	if model == "" {
		model = m.defaultModel
	}

	variant := engine.SelectVariant(req.SkipReview, req.SkipEval)
	sess := &store.EvaluationSession{
		GoldenSetID:   gs.ID,
		ThreadID:      uuid.NewString(),
		Status:        types.SessionPending,
		ModelName:     model,
		InputPosition: pos,
		Metadata: store.SessionMetadata{
			SkipReview:    req.SkipReview,
			SkipEval:      req.SkipEval,
			EngineVariant: string(variant),
		},
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	log := m.logger.With(zap.Uint("session_id", sess.ID), zap.String("thread_id", sess.ThreadID))
	log.Info("session started", zap.Uint("golden_set_id", gs.ID), zap.Int("position", pos), zap.String("variant", string(variant)))

	state := engine.State{
		GoldenSetID:   gs.ID,
		ProjectID:     gs.ProjectID,
		InputPosition: pos,
		UserInput:     gs.UserInputs[pos].Content,
		CopilotOutput: gs.CopilotOutputs[pos].EditableText,
	}
	res, err := m.engine.Invoke(ctx, state, m.engineConfig(sess))
	if err != nil {
		return m.fail(ctx, sess, "engine invocation failed", err), nil
	}

	out, err := m.apply(ctx, sess, res, applyOptions{})
	if err != nil {
		return m.fail(ctx, sess, "engine result could not be read", err), nil
	}
	return out, nil
}

// SubmitRubricReview applies a reviewer's decision and resumes the engine.
func (m *Manager) SubmitRubricReview(ctx context.Context, req RubricReviewRequest) (*Response, error) {
	release, err := m.lockSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.guard(ctx, req.SessionID, req.ThreadID, types.SessionAwaitingRubricReview)
	if err != nil {
		return nil, err
	}
	rubric, err := m.store.GetRubric(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	criteria := rubric.Draft
	changed := false
	if len(req.Modifications) > 0 {
		if err := ValidateCriteria(req.Modifications); err != nil {
			return nil, err
		}
		criteria = req.Modifications
		changed = true
	}
	if len(req.Patches) > 0 {
		criteria, err = ApplyCriterionPatches(criteria, req.Patches)
		if err != nil {
			return nil, err
		}
		changed = true
	}
	if req.Approved && len(criteria) == 0 {
		return nil, types.NewInvalidRequestError("cannot approve an empty rubric")
	}

	reviewedAt := m.now()
	rubric.ReviewedBy = req.ReviewerID
	rubric.ReviewedAt = &reviewedAt
	rubric.Feedback = req.Feedback
	if changed {
		rubric.Version++
	}
	if req.Approved {
		rubric.ReviewStatus = types.ReviewApproved
		rubric.Final = criteria
	} else {
		rubric.ReviewStatus = types.ReviewRejected
		rubric.Draft = criteria
	}
	if err := m.store.SaveRubric(ctx, rubric); err != nil {
		return nil, err
	}

	cmd := engine.Command{
		Type: engine.CommandHumanReview,
		Resume: engine.ReviewDecision{
			Approved:   req.Approved,
			Rubric:     criteria,
			Feedback:   req.Feedback,
			ReviewerID: req.ReviewerID,
		},
	}
	res, err := m.engine.Resume(ctx, cmd, m.engineConfig(sess))
	if err != nil {
		return m.fail(ctx, sess, "engine resume after rubric review failed", err), nil
	}
	out, err := m.apply(ctx, sess, res, applyOptions{rubric: rubric})
	if err != nil {
		return m.fail(ctx, sess, "engine result could not be read", err), nil
	}
	if out.FinalRubric == nil && req.Approved {
		out.FinalRubric = criteria
	}
	return out, nil
}

// SubmitHumanEvaluation records the human scores and resumes the engine to
// completion.
func (m *Manager) SubmitHumanEvaluation(ctx context.Context, req HumanEvaluationRequest) (*Response, error) {
	release, err := m.lockSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.guard(ctx, req.SessionID, req.ThreadID, types.SessionAwaitingHumanEvaluation)
	if err != nil {
		return nil, err
	}
	rubric, err := m.store.GetRubric(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	criteria := rubric.Current()

	var answers []types.Answer
	switch {
	case len(req.Scores) > 0:
		if err := ValidateScores(criteria, req.Scores); err != nil {
			return nil, err
		}
		answers = req.Scores
	case len(req.AnswerPatches) > 0:
		agent, err := m.store.GetJudgeRecord(ctx, sess.ID, types.JudgeAgent)
		if err != nil {
			if types.IsErrorCode(err, types.ErrNotFound) {
				return nil, types.NewInvalidRequestError("answer patches need an agent evaluation to patch")
			}
			return nil, err
		}
		answers, err = ApplyAnswerPatches(agent.Answers, req.AnswerPatches)
		if err != nil {
			return nil, err
		}
	default:
		return nil, types.NewInvalidRequestError("scores or answer_patches are required")
	}

	eval := types.Evaluation{
		Answers:      answers,
		OverallScore: WeightedScore(criteria, answers),
		Summary:      req.OverallAssessment,
		EvaluatorID:  req.EvaluatorID,
	}
	cmd := engine.Command{
		Type:   engine.CommandHumanEvaluation,
		Resume: engine.EvaluationDecision{Evaluation: eval, OverallAssessment: req.OverallAssessment},
	}
	res, err := m.engine.Resume(ctx, cmd, m.engineConfig(sess))
	if err != nil {
		return m.fail(ctx, sess, "engine resume after human evaluation failed", err), nil
	}

	human := &store.JudgeRecord{
		SessionID:    sess.ID,
		RubricID:     rubric.ID,
		Kind:         types.JudgeHuman,
		Answers:      eval.Answers,
		OverallScore: eval.OverallScore,
		Summary:      eval.Summary,
		EvaluatorID:  eval.EvaluatorID,
	}
	if err := m.store.SaveJudgeRecord(ctx, human); err != nil {
		m.logger.Error("persist human evaluation failed", zap.Uint("session_id", sess.ID), zap.Error(err))
	}

	out, err := m.apply(ctx, sess, res, applyOptions{rubric: rubric, terminal: true, fallback: &eval, fallbackSource: "human"})
	if err != nil {
		return m.fail(ctx, sess, "engine result could not be read", err), nil
	}
	return out, nil
}

// GetSessionState returns the read model of a session.
func (m *Manager) GetSessionState(ctx context.Context, sessionID uint) (*State, error) {
	key := stateKey(sessionID)
	if m.cache != nil {
		var cached State
		if err := m.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st := &State{SessionID: sess.ID, Status: sess.Status, ThreadID: sess.ThreadID}

	rubric, err := m.store.GetRubric(ctx, sess.ID)
	switch {
	case err == nil:
		st.DraftRubric = rubric.Draft
		st.FinalRubric = rubric.Final
	case !types.IsErrorCode(err, types.ErrNotFound):
		return nil, err
	}
	if st.AgentEvaluation, err = m.evaluation(ctx, sess.ID, types.JudgeAgent); err != nil {
		return nil, err
	}
	if st.HumanEvaluation, err = m.evaluation(ctx, sess.ID, types.JudgeHuman); err != nil {
		return nil, err
	}
	report, err := m.store.GetFinalReport(ctx, sess.ID)
	switch {
	case err == nil:
		st.FinalReport = report.Report()
	case !types.IsErrorCode(err, types.ErrNotFound):
		return nil, err
	}

	// 只缓存终态：非终态快照可能在并发流转的 invalidate 之后写回
	if m.cache != nil && st.Status.IsTerminal() {
		if err := m.cache.SetJSON(ctx, key, st, m.cacheTTL); err != nil {
			m.logger.Debug("cache session state failed", zap.Uint("session_id", sessionID), zap.Error(err))
		}
	}
	return st, nil
}

func (m *Manager) evaluation(ctx context.Context, sessionID uint, kind types.JudgeKind) (*types.Evaluation, error) {
	rec, err := m.store.GetJudgeRecord(ctx, sessionID, kind)
	if err != nil {
		if types.IsErrorCode(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec.Evaluation(), nil
}

type applyOptions struct {
	rubric         *store.Rubric
	terminal       bool
	fallback       *types.Evaluation
	fallbackSource string
}

// apply classifies res, persists its artifacts and moves the session. Only
// a malformed result is returned as an error; persistence errors are logged.
func (m *Manager) apply(ctx context.Context, sess *store.EvaluationSession, res *engine.Result, opts applyOptions) (*Response, error) {
	values, err := res.DecodeValues()
	if err != nil {
		return nil, err
	}
	pause := ClassifyPause(res)
	next := NextStatus(sess.Status, pause)
	if opts.terminal {
		next = types.SessionCompleted
	}
	log := m.logger.With(zap.Uint("session_id", sess.ID), zap.String("thread_id", sess.ThreadID))
	if pause.Kind == PauseUnrecognized && !opts.terminal {
		log.Warn("unrecognized engine pause payload, session needs manual follow-up",
			zap.String("status", string(sess.Status)), zap.ByteString("payload", pause.Raw))
	}

	draft := firstNonEmpty(values.DraftRubric, pause.DraftRubric)
	final := firstNonEmpty(values.FinalRubric, pause.FinalRubric)
	rubric := m.persistRubric(ctx, sess, opts.rubric, draft, final, pause.Kind, log)

	if values.AgentEvaluation != nil {
		rec := &store.JudgeRecord{
			SessionID:    sess.ID,
			Kind:         types.JudgeAgent,
			Answers:      values.AgentEvaluation.Answers,
			OverallScore: values.AgentEvaluation.OverallScore,
			Summary:      values.AgentEvaluation.Summary,
		}
		if rubric != nil {
			rec.RubricID = rubric.ID
		}
		if err := m.store.SaveJudgeRecord(ctx, rec); err != nil {
			log.Error("persist agent evaluation failed", zap.Error(err))
		}
	}

	out := &Response{SessionID: sess.ID, ThreadID: sess.ThreadID, Status: next, Message: statusMessage(next, pause.Kind)}
	if rubric != nil {
		out.DraftRubric = rubric.Draft
		out.FinalRubric = rubric.Final
	}

	if next == types.SessionCompleted {
		report := values.FinalReport
		if report == nil {
			src, eval := opts.fallbackSource, opts.fallback
			if eval == nil {
				src, eval = "agent", values.AgentEvaluation
			}
			report = fallbackReport(eval, src)
		}
		out.FinalReport = report
		rec := &store.FinalReport{
			SessionID:     sess.ID,
			Verdict:       report.Verdict,
			OverallScore:  report.OverallScore,
			Summary:       report.Summary,
			Discrepancies: report.Discrepancies,
			AuditTrail:    report.AuditTrail,
		}
		if err := m.store.CreateFinalReport(ctx, rec); err != nil {
			log.Error("persist final report failed", zap.Error(err))
		}
	}

	m.transition(ctx, sess, next)
	m.invalidate(ctx, sess.ID)
	return out, nil
}

func (m *Manager) invalidate(ctx context.Context, sessionID uint) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, stateKey(sessionID)); err != nil {
		m.logger.Debug("invalidate session state failed", zap.Uint("session_id", sessionID), zap.Error(err))
	}
}

func (m *Manager) persistRubric(ctx context.Context, sess *store.EvaluationSession, rubric *store.Rubric,
	draft, final []types.Criterion, kind PauseKind, log *zap.Logger) *store.Rubric {
	if rubric == nil {
		existing, err := m.store.GetRubric(ctx, sess.ID)
		switch {
		case err == nil:
			rubric = existing
		case !types.IsErrorCode(err, types.ErrNotFound):
			log.Error("load rubric failed", zap.Error(err))
			return nil
		}
	}
	if draft == nil && final == nil {
		return rubric
	}

	if rubric == nil {
		if draft == nil {
			draft = final
		}
		rubric = &store.Rubric{SessionID: sess.ID, Version: 1, Draft: draft, Final: final, ReviewStatus: types.ReviewPending}
		if sess.Metadata.SkipReview && final != nil {
			rubric.ReviewStatus = types.ReviewApproved
		}
	} else {
		// 被驳回后引擎重新生成草稿，回到待审核
		if draft != nil && kind == PauseRubricReview && rubric.ReviewStatus == types.ReviewRejected {
			rubric.Draft = draft
			rubric.ReviewStatus = types.ReviewPending
			rubric.Version++
		}
		if final != nil {
			rubric.Final = final
		}
	}
	if err := m.store.SaveRubric(ctx, rubric); err != nil {
		log.Error("persist rubric failed", zap.Error(err))
	}
	return rubric
}

func (m *Manager) transition(ctx context.Context, sess *store.EvaluationSession, next types.SessionStatus) {
	from := sess.Status
	if from == next {
		return
	}
	if err := m.store.UpdateSessionStatus(ctx, sess.ID, next); err != nil {
		m.logger.Error("persist session status failed",
			zap.Uint("session_id", sess.ID),
			zap.String("from", string(from)),
			zap.String("to", string(next)),
			zap.Error(err))
		return
	}
	sess.Status = next
	if m.onTransition != nil {
		m.onTransition(from, next)
	}
	m.logger.Info("session transitioned",
		zap.Uint("session_id", sess.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next)))
}

// fail marks the session failed and builds the failure response.
func (m *Manager) fail(ctx context.Context, sess *store.EvaluationSession, msg string, cause error) *Response {
	m.logger.Error(msg, zap.Uint("session_id", sess.ID), zap.String("thread_id", sess.ThreadID), zap.Error(cause))
	m.transition(ctx, sess, types.SessionFailed)
	m.invalidate(ctx, sess.ID)
	return &Response{
		SessionID: sess.ID,
		ThreadID:  sess.ThreadID,
		Status:    sess.Status,
		Message:   fmt.Sprintf("%s: %v", msg, cause),
	}
}

// guard loads the session and enforces the thread id and status preconditions.
func (m *Manager) guard(ctx context.Context, sessionID uint, threadID string, want types.SessionStatus) (*store.EvaluationSession, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if threadID != sess.ThreadID {
		return nil, types.Errorf(types.ErrThreadMismatch, "thread id does not match session %d", sessionID).
			WithHTTPStatus(409)
	}
	if sess.Status != want {
		return nil, types.Errorf(types.ErrInvalidTransition, "session %d is %s, expected %s", sessionID, sess.Status, want).
			WithHTTPStatus(409)
	}
	return sess, nil
}

func (m *Manager) lockSession(ctx context.Context, sessionID uint) (func(), error) {
	lease, err := m.locker.TryLock(ctx, fmt.Sprintf("session:%d", sessionID), m.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, types.Errorf(types.ErrConflict, "session %d is being updated", sessionID).WithHTTPStatus(409)
		}
		return nil, types.WrapError(err, types.ErrServiceUnavailable, "acquire session lock").WithHTTPStatus(503)
	}
	return lease.Release, nil
}

func (m *Manager) engineConfig(sess *store.EvaluationSession) engine.Config {
	return engine.Config{
		ThreadID:   sess.ThreadID,
		ModelName:  sess.ModelName,
		Provider:   m.provider,
		SkipReview: sess.Metadata.SkipReview,
		SkipEval:   sess.Metadata.SkipEval,
		Variant:    engine.Variant(sess.Metadata.EngineVariant),
	}
}

func stateKey(sessionID uint) string {
	return fmt.Sprintf("session_state:%d", sessionID)
}

func firstNonEmpty(a, b []types.Criterion) []types.Criterion {
	if len(a) > 0 {
		return a
	}
	if len(b) > 0 {
		return b
	}
	return nil
}
