package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/evalflow/internal/tlsutil"
	"github.com/BaSui01/evalflow/types"
	"go.uber.org/zap"
)

// HTTPClientConfig configures the remote workflow engine client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient calls a workflow engine over HTTP:
//
//	POST {base}/graphs/{variant}/invoke  {"input": State,   "config": Config}
//	POST {base}/graphs/{variant}/resume  {"command": Command, "config": Config}
//
// Both endpoints answer with a Result.
type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates the client. A zero timeout defaults to 2 minutes.
func NewHTTPClient(cfg HTTPClientConfig, logger *zap.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "engine_client")),
	}
}

type invokeRequest struct {
	Input  State  `json:"input"`
	Config Config `json:"config"`
}

type resumeRequest struct {
	Command Command `json:"command"`
	Config  Config  `json:"config"`
}

func (c *HTTPClient) Invoke(ctx context.Context, state State, cfg Config) (*Result, error) {
	return c.post(ctx, cfg, "invoke", invokeRequest{Input: state, Config: cfg})
}

func (c *HTTPClient) Resume(ctx context.Context, cmd Command, cfg Config) (*Result, error) {
	return c.post(ctx, cfg, "resume", resumeRequest{Command: cmd, Config: cfg})
}

func (c *HTTPClient) post(ctx context.Context, cfg Config, action string, body any) (*Result, error) {
	variant := cfg.Variant
	if variant == "" {
		variant = SelectVariant(cfg.SkipReview, cfg.SkipEval)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewInvalidRequestError("encode engine request").WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/graphs/%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), variant, action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build engine request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.WrapError(err, types.ErrUpstreamError, "engine "+action).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
	defer resp.Body.Close()

	c.logger.Debug("engine call",
		zap.String("action", action),
		zap.String("thread_id", cfg.ThreadID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 400 {
		return nil, mapStatus(resp.StatusCode, readErrMsg(resp.Body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode engine response").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway)
	}
	return &result, nil
}

func mapStatus(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(http.StatusBadGateway)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(http.StatusBadGateway)
	case http.StatusGatewayTimeout:
		return types.NewTimeoutError(msg).WithHTTPStatus(http.StatusGatewayTimeout)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(http.StatusBadGateway).WithRetryable(status >= 500)
	}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	return strings.TrimSpace(string(data))
}
