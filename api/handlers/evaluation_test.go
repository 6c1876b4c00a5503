package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/batch"
	"github.com/BaSui01/evalflow/session"
	"github.com/BaSui01/evalflow/store"
	"github.com/BaSui01/evalflow/types"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

type fakeBatch struct {
	execFn func(ctx context.Context, req batch.Request) (bool, error)
}

func (f *fakeBatch) ExecBatch(ctx context.Context, req batch.Request) (bool, error) {
	return f.execFn(ctx, req)
}

type fakeSessions struct {
	startFn  func(ctx context.Context, req session.StartRequest) (*session.Response, error)
	reviewFn func(ctx context.Context, req session.RubricReviewRequest) (*session.Response, error)
	humanFn  func(ctx context.Context, req session.HumanEvaluationRequest) (*session.Response, error)
	stateFn  func(ctx context.Context, id uint) (*session.State, error)
}

func (f *fakeSessions) Start(ctx context.Context, req session.StartRequest) (*session.Response, error) {
	return f.startFn(ctx, req)
}

func (f *fakeSessions) SubmitRubricReview(ctx context.Context, req session.RubricReviewRequest) (*session.Response, error) {
	return f.reviewFn(ctx, req)
}

func (f *fakeSessions) SubmitHumanEvaluation(ctx context.Context, req session.HumanEvaluationRequest) (*session.Response, error) {
	return f.humanFn(ctx, req)
}

func (f *fakeSessions) GetSessionState(ctx context.Context, id uint) (*session.State, error) {
	return f.stateFn(ctx, id)
}

type fakeGoldenSets struct {
	GoldenSetStore
	getFn func(ctx context.Context, id uint) (*store.GoldenSet, error)
}

func (f *fakeGoldenSets) GetGoldenSet(ctx context.Context, id uint) (*store.GoldenSet, error) {
	return f.getFn(ctx, id)
}

func evaluationMux(b BatchRunner, s SessionService, g GoldenSetStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewEvaluationHandler(b, s, g, zap.NewNop()).Register(mux)
	return mux
}

func withUser(r *http.Request, user string) *http.Request {
	return r.WithContext(types.WithUserID(r.Context(), user))
}

// =============================================================================
// 🧪 批量
// =============================================================================

func TestEvaluationHandler_ExecBatch(t *testing.T) {
	var got batch.Request
	b := &fakeBatch{execFn: func(ctx context.Context, req batch.Request) (bool, error) {
		got = req
		return true, nil
	}}
	g := &fakeGoldenSets{getFn: func(ctx context.Context, id uint) (*store.GoldenSet, error) {
		return &store.GoldenSet{
			ID:             id,
			UserInputs:     make([]store.UserInput, 3),
			CopilotOutputs: make([]store.CopilotOutput, 1),
		}, nil
	}}
	mux := evaluationMux(b, &fakeSessions{}, g)

	w := serve(mux, http.MethodPost, "/api/v1/golden-sets/5/batch", `{"model_name":"gpt-4o","skip_review":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, batch.Request{GoldenSetID: 5, ModelName: "gpt-4o", SkipReview: true}, got)

	var resp struct {
		GoldenSetID    uint `json:"golden_set_id"`
		Success        bool `json:"success"`
		UserInputs     int  `json:"user_inputs"`
		CopilotOutputs int  `json:"copilot_outputs"`
	}
	decodeData(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.UserInputs)
	assert.Equal(t, 1, resp.CopilotOutputs)
}

func TestEvaluationHandler_ExecBatch_EmptyBody(t *testing.T) {
	called := false
	b := &fakeBatch{execFn: func(ctx context.Context, req batch.Request) (bool, error) {
		called = true
		assert.Equal(t, uint(9), req.GoldenSetID)
		return true, nil
	}}
	g := &fakeGoldenSets{getFn: func(ctx context.Context, id uint) (*store.GoldenSet, error) {
		return &store.GoldenSet{ID: id}, nil
	}}
	w := serve(evaluationMux(b, &fakeSessions{}, g), http.MethodPost, "/api/v1/golden-sets/9/batch", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestEvaluationHandler_ExecBatch_Conflict(t *testing.T) {
	b := &fakeBatch{execFn: func(ctx context.Context, req batch.Request) (bool, error) {
		return false, types.NewError(types.ErrConflict, "batch already running").WithHTTPStatus(http.StatusConflict)
	}}
	w := serve(evaluationMux(b, &fakeSessions{}, &fakeGoldenSets{}), http.MethodPost, "/api/v1/golden-sets/1/batch", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CONFLICT")
}

// =============================================================================
// 🧪 会话
// =============================================================================

func TestEvaluationHandler_StartSession(t *testing.T) {
	var got session.StartRequest
	s := &fakeSessions{startFn: func(ctx context.Context, req session.StartRequest) (*session.Response, error) {
		got = req
		return &session.Response{SessionID: 1, ThreadID: "t-1", Status: types.SessionAwaitingRubricReview}, nil
	}}
	mux := evaluationMux(&fakeBatch{}, s, &fakeGoldenSets{})

	w := serve(mux, http.MethodPost, "/api/v1/sessions", `{"golden_set_id":3,"input_position":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, uint(3), got.GoldenSetID)
	require.NotNil(t, got.InputPosition)
	assert.Equal(t, 2, *got.InputPosition)

	var resp session.Response
	decodeData(t, w, &resp)
	assert.Equal(t, types.SessionAwaitingRubricReview, resp.Status)

	w = serve(mux, http.MethodPost, "/api/v1/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluationHandler_GetSession(t *testing.T) {
	s := &fakeSessions{stateFn: func(ctx context.Context, id uint) (*session.State, error) {
		if id != 1 {
			return nil, types.NewNotFoundError("session", id)
		}
		return &session.State{SessionID: 1, Status: types.SessionCompleted}, nil
	}}
	mux := evaluationMux(&fakeBatch{}, s, &fakeGoldenSets{})

	w := serve(mux, http.MethodGet, "/api/v1/sessions/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st session.State
	decodeData(t, w, &st)
	assert.Equal(t, types.SessionCompleted, st.Status)

	w = serve(mux, http.MethodGet, "/api/v1/sessions/2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluationHandler_RubricReview_ReviewerFromAuth(t *testing.T) {
	var got session.RubricReviewRequest
	s := &fakeSessions{reviewFn: func(ctx context.Context, req session.RubricReviewRequest) (*session.Response, error) {
		got = req
		return &session.Response{SessionID: req.SessionID, Status: types.SessionAwaitingHumanEvaluation}, nil
	}}
	mux := evaluationMux(&fakeBatch{}, s, &fakeGoldenSets{})

	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/4/rubric-review",
		strings.NewReader(`{"thread_id":"t-4","approved":true}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, withUser(r, "alice"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint(4), got.SessionID)
	assert.Equal(t, "t-4", got.ThreadID)
	assert.True(t, got.Approved)
	assert.Equal(t, "alice", got.ReviewerID)
}

func TestEvaluationHandler_RubricReview_ExplicitReviewerWins(t *testing.T) {
	var got session.RubricReviewRequest
	s := &fakeSessions{reviewFn: func(ctx context.Context, req session.RubricReviewRequest) (*session.Response, error) {
		got = req
		return &session.Response{}, nil
	}}
	mux := evaluationMux(&fakeBatch{}, s, &fakeGoldenSets{})

	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/4/rubric-review",
		strings.NewReader(`{"thread_id":"t-4","approved":false,"reviewer_id":"bob","feedback":"too vague"}`))
	mux.ServeHTTP(httptest.NewRecorder(), withUser(r, "alice"))
	assert.Equal(t, "bob", got.ReviewerID)
	assert.Equal(t, "too vague", got.Feedback)
}

func TestEvaluationHandler_RubricReview_ThreadMismatch(t *testing.T) {
	s := &fakeSessions{reviewFn: func(ctx context.Context, req session.RubricReviewRequest) (*session.Response, error) {
		return nil, types.NewError(types.ErrThreadMismatch, "thread id mismatch")
	}}
	w := serve(evaluationMux(&fakeBatch{}, s, &fakeGoldenSets{}), http.MethodPost,
		"/api/v1/sessions/4/rubric-review", `{"thread_id":"wrong","approved":true}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "THREAD_MISMATCH")
}

func TestEvaluationHandler_HumanEvaluation(t *testing.T) {
	var got session.HumanEvaluationRequest
	s := &fakeSessions{humanFn: func(ctx context.Context, req session.HumanEvaluationRequest) (*session.Response, error) {
		got = req
		return &session.Response{
			SessionID:   req.SessionID,
			Status:      types.SessionCompleted,
			FinalReport: &types.Report{Verdict: types.VerdictPass, OverallScore: 3},
		}, nil
	}}
	mux := evaluationMux(&fakeBatch{}, s, &fakeGoldenSets{})

	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/6/human-evaluation",
		strings.NewReader(`{"thread_id":"t-6","scores":[{"question_id":"q1","score":3}],"overall_assessment":"solid"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, withUser(r, "carol"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint(6), got.SessionID)
	require.Len(t, got.Scores, 1)
	assert.Equal(t, "q1", got.Scores[0].QuestionID)
	assert.Equal(t, "solid", got.OverallAssessment)
	assert.Equal(t, "carol", got.EvaluatorID)

	var resp session.Response
	decodeData(t, w, &resp)
	require.NotNil(t, resp.FinalReport)
	assert.Equal(t, types.VerdictPass, resp.FinalReport.Verdict)
}

func TestEvaluationHandler_MethodNotAllowed(t *testing.T) {
	w := serve(evaluationMux(&fakeBatch{}, &fakeSessions{}, &fakeGoldenSets{}), http.MethodDelete, "/api/v1/sessions/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
