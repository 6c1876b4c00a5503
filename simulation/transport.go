package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/internal/tlsutil"
)

// Transport message types.
const (
	MessageInitialState = "initial_state"
	MessageHumanInput   = "human_input"
	MessageSystemStatus = "system_status"
	MessageToolCalls    = "tool_calls"
	MessageAIResponse   = "ai_response"
)

// TransportMessage is one JSON frame of the simulated-user transport.
type TransportMessage struct {
	Type         string          `json:"type"`
	Content      string          `json:"content,omitempty"`
	EditableText string          `json:"editable_text,omitempty"`
	Status       string          `json:"status,omitempty"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
}

// TransportConfig configures TransportStrategy.
type TransportConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadLimit    int64
	HTTPClient   *http.Client
	Subprotocols []string
}

// TransportStrategy simulates in process over a duplex websocket channel
// at <URL>/projects/<project_id>.
type TransportStrategy struct {
	cfg    TransportConfig
	logger *zap.Logger
}

// NewTransportStrategy creates the in-process strategy.
func NewTransportStrategy(cfg TransportConfig, logger *zap.Logger) *TransportStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4 << 20
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = tlsutil.UpgradeHTTPClient()
	}
	return &TransportStrategy{cfg: cfg, logger: logger.With(zap.String("component", "simulation_transport"))}
}

func (t *TransportStrategy) Name() string { return "transport" }

// Endpoint returns the project channel URL.
func (t *TransportStrategy) Endpoint(projectID string) string {
	return strings.TrimRight(t.cfg.URL, "/") + "/projects/" + url.PathEscape(projectID)
}

// Simulate waits for initial_state, sends one human_input and completes on
// ai_response. Cancelling ctx closes the connection.
func (t *TransportStrategy) Simulate(ctx context.Context, req Request) (*Result, error) {
	endpoint := t.Endpoint(req.ProjectID)

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPClient:   t.cfg.HTTPClient,
		Subprotocols: t.cfg.Subprotocols,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("transport dial %s: %w", endpoint, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(t.cfg.ReadLimit)

	log := t.logger.With(zap.String("project_id", req.ProjectID), zap.Int("position", req.InputPosition))
	sent := false
	for {
		var msg TransportMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return nil, fmt.Errorf("transport closed before ai_response (status %d)", status)
			}
			return nil, fmt.Errorf("transport read: %w", err)
		}

		switch msg.Type {
		case MessageInitialState:
			if sent {
				log.Debug("duplicate initial_state ignored")
				continue
			}
			out := TransportMessage{Type: MessageHumanInput, Content: req.Content}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return nil, fmt.Errorf("transport write: %w", err)
			}
			sent = true
		case MessageSystemStatus:
			log.Debug("transport status", zap.String("status", msg.Status), zap.String("content", msg.Content))
		case MessageToolCalls:
			log.Debug("transport tool calls ignored", zap.Int("bytes", len(msg.ToolCalls)))
		case MessageAIResponse:
			text := msg.EditableText
			if text == "" {
				text = msg.Content
			}
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			if text == "" {
				return nil, ErrEmptyResult
			}
			return &Result{EditableText: text}, nil
		default:
			log.Debug("unknown transport message", zap.String("type", msg.Type))
		}
	}
}
