package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BaSui01/evalflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSelectVariant(t *testing.T) {
	tests := []struct {
		skipReview, skipEval bool
		want                 Variant
	}{
		{true, true, VariantAutomated},
		{true, false, VariantInterruptible},
		{false, true, VariantInterruptible},
		{false, false, VariantInterruptible},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectVariant(tt.skipReview, tt.skipEval))
	}
}

func TestResult_DecodeValues(t *testing.T) {
	r := &Result{Values: json.RawMessage(`{
		"draft_rubric": [{"id": "q1", "question": "Accurate?", "weight": 1}],
		"final_report": {"verdict": "pass", "overall_score": 4.2},
		"messages": ["ignored"]
	}`)}

	v, err := r.DecodeValues()
	require.NoError(t, err)
	require.Len(t, v.DraftRubric, 1)
	assert.Equal(t, "q1", v.DraftRubric[0].ID)
	assert.Nil(t, v.FinalRubric)
	require.NotNil(t, v.FinalReport)
	assert.Equal(t, types.VerdictPass, v.FinalReport.Verdict)
	assert.False(t, r.Paused())

	empty, err := (&Result{}).DecodeValues()
	require.NoError(t, err)
	assert.Nil(t, empty.FinalReport)

	_, err = (&Result{Values: json.RawMessage(`{"draft_rubric": "nope"}`)}).DecodeValues()
	assert.Error(t, err)
}

func TestFunc_Unconfigured(t *testing.T) {
	_, err := Func{}.Invoke(context.Background(), State{}, Config{})
	assert.True(t, types.IsErrorCode(err, types.ErrServiceUnavailable))
	_, err = Func{}.Resume(context.Background(), Command{}, Config{})
	assert.True(t, types.IsErrorCode(err, types.ErrServiceUnavailable))
}

func TestHTTPClient_InvokeAndResume(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &raw))
		require.Contains(t, raw, "config")

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/graphs/interruptible/invoke":
			var req invokeRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "input A", req.Input.UserInput)
			_, _ = w.Write([]byte(`{"values":{"draft_rubric":[{"id":"q1","question":"?","weight":1}]},"interrupt":{"value":{"draft_rubric":[]}}}`))
		case "/graphs/interruptible/resume":
			var req resumeRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, CommandHumanReview, req.Command.Type)
			_, _ = w.Write([]byte(`{"values":{"final_report":{"verdict":"fail"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, zap.NewNop())
	cfg := Config{ThreadID: "t-1", ModelName: "gpt-4o", Variant: VariantInterruptible}

	res, err := c.Invoke(context.Background(), State{UserInput: "input A"}, cfg)
	require.NoError(t, err)
	assert.True(t, res.Paused())

	res, err = c.Resume(context.Background(), Command{Type: CommandHumanReview, Resume: ReviewDecision{Approved: true}}, cfg)
	require.NoError(t, err)
	assert.False(t, res.Paused())
	v, err := res.DecodeValues()
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, v.FinalReport.Verdict)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/graphs/interruptible/invoke", "/graphs/interruptible/resume"}, paths)
}

func TestHTTPClient_VariantFromSkipFlags(t *testing.T) {
	path := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path <- r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.Invoke(context.Background(), State{}, Config{SkipReview: true, SkipEval: true})
	require.NoError(t, err)
	assert.Equal(t, "/graphs/automated/invoke", <-path)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		code      types.ErrorCode
		retryable bool
		msg       string
	}{
		{http.StatusInternalServerError, `{"message":"graph crashed"}`, types.ErrUpstreamError, true, "graph crashed"},
		{http.StatusBadRequest, `{"error":"bad thread"}`, types.ErrUpstreamError, false, "bad thread"},
		{http.StatusTooManyRequests, `slow down`, types.ErrRateLimited, true, "slow down"},
		{http.StatusGatewayTimeout, ``, types.ErrTimeout, true, ""},
		{http.StatusUnauthorized, `{}`, types.ErrUnauthorized, false, "{}"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL}, nil)
			_, err := c.Invoke(context.Background(), State{}, Config{})
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.msg, e.Message)
		})
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: url}, nil)
	_, err := c.Invoke(context.Background(), State{}, Config{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}
