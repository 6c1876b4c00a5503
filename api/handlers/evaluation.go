package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/api"
	"github.com/BaSui01/evalflow/batch"
	"github.com/BaSui01/evalflow/session"
	"github.com/BaSui01/evalflow/types"
)

// BatchRunner 批量执行。*batch.Orchestrator 满足该接口。
type BatchRunner interface {
	ExecBatch(ctx context.Context, req batch.Request) (bool, error)
}

// SessionService 会话操作。*session.Manager 满足该接口。
type SessionService interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Response, error)
	SubmitRubricReview(ctx context.Context, req session.RubricReviewRequest) (*session.Response, error)
	SubmitHumanEvaluation(ctx context.Context, req session.HumanEvaluationRequest) (*session.Response, error)
	GetSessionState(ctx context.Context, sessionID uint) (*session.State, error)
}

// EvaluationHandler 批量与会话处理器
type EvaluationHandler struct {
	batch      BatchRunner
	sessions   SessionService
	goldenSets GoldenSetStore
	logger     *zap.Logger
}

// NewEvaluationHandler 创建处理器
func NewEvaluationHandler(runner BatchRunner, sessions SessionService, goldenSets GoldenSetStore, logger *zap.Logger) *EvaluationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationHandler{
		batch:      runner,
		sessions:   sessions,
		goldenSets: goldenSets,
		logger:     logger.With(zap.String("handler", "evaluation")),
	}
}

// Register 挂载路由
func (h *EvaluationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/golden-sets/{id}/batch", h.HandleExecBatch)
	mux.HandleFunc("POST /api/v1/sessions", h.HandleStartSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/rubric-review", h.HandleRubricReview)
	mux.HandleFunc("POST /api/v1/sessions/{id}/human-evaluation", h.HandleHumanEvaluation)
}

// HandleExecBatch POST /api/v1/golden-sets/{id}/batch。请求体可省略。
// 同步等待整批完成。
func (h *EvaluationHandler) HandleExecBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	var req api.BatchRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req); err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
	}

	ok, err := h.batch.ExecBatch(r.Context(), batch.Request{
		GoldenSetID: id,
		ModelName:   req.ModelName,
		SkipReview:  req.SkipReview,
		SkipEval:    req.SkipEval,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp := api.BatchResponse{GoldenSetID: id, Success: ok}
	if gs, err := h.goldenSets.GetGoldenSet(r.Context(), id); err == nil {
		resp.UserInputs = len(gs.UserInputs)
		resp.CopilotOutputs = len(gs.CopilotOutputs)
	} else {
		h.logger.Warn("reload golden set after batch failed", zap.Uint("golden_set_id", id), zap.Error(err))
	}
	WriteSuccess(w, r, resp)
}

// HandleStartSession POST /api/v1/sessions
func (h *EvaluationHandler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if req.GoldenSetID == 0 {
		WriteError(w, r, types.NewInvalidRequestError("golden_set_id is required"), h.logger)
		return
	}
	resp, err := h.sessions.Start(r.Context(), session.StartRequest{
		GoldenSetID:   req.GoldenSetID,
		ModelName:     req.ModelName,
		SkipReview:    req.SkipReview,
		SkipEval:      req.SkipEval,
		InputPosition: req.InputPosition,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteCreated(w, r, resp)
}

// HandleGetSession GET /api/v1/sessions/{id}
func (h *EvaluationHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	st, err := h.sessions.GetSessionState(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, st)
}

// HandleRubricReview POST /api/v1/sessions/{id}/rubric-review
func (h *EvaluationHandler) HandleRubricReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	var req api.RubricReviewRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	resp, err := h.sessions.SubmitRubricReview(r.Context(), session.RubricReviewRequest{
		SessionID:     id,
		ThreadID:      req.ThreadID,
		Approved:      req.Approved,
		Modifications: req.Modifications,
		Patches:       req.Patches,
		Feedback:      req.Feedback,
		ReviewerID:    actingUser(r.Context(), req.ReviewerID),
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, resp)
}

// HandleHumanEvaluation POST /api/v1/sessions/{id}/human-evaluation
func (h *EvaluationHandler) HandleHumanEvaluation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	var req api.HumanEvaluationRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	resp, err := h.sessions.SubmitHumanEvaluation(r.Context(), session.HumanEvaluationRequest{
		SessionID:         id,
		ThreadID:          req.ThreadID,
		Scores:            req.Scores,
		AnswerPatches:     req.AnswerPatches,
		OverallAssessment: req.OverallAssessment,
		EvaluatorID:       actingUser(r.Context(), req.EvaluatorID),
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, resp)
}

// actingUser 请求体显式给出的 id 优先，否则取认证用户
func actingUser(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	id, _ := types.UserID(ctx)
	return id
}
