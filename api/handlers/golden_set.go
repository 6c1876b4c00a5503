package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/api"
	"github.com/BaSui01/evalflow/store"
	"github.com/BaSui01/evalflow/types"
)

// GoldenSetStore 金标集读写。store.Store 满足该接口。
type GoldenSetStore interface {
	CreateGoldenSet(ctx context.Context, projectID, name string, inputs []string) (*store.GoldenSet, error)
	AppendUserInputs(ctx context.Context, goldenSetID uint, contents []string) ([]store.UserInput, error)
	GetGoldenSet(ctx context.Context, id uint) (*store.GoldenSet, error)
}

// GoldenSetHandler 金标集处理器
type GoldenSetHandler struct {
	store  GoldenSetStore
	logger *zap.Logger
}

// NewGoldenSetHandler 创建金标集处理器
func NewGoldenSetHandler(st GoldenSetStore, logger *zap.Logger) *GoldenSetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoldenSetHandler{store: st, logger: logger.With(zap.String("handler", "golden_set"))}
}

// Register 挂载路由
func (h *GoldenSetHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/golden-sets", h.HandleCreate)
	mux.HandleFunc("POST /api/v1/golden-sets/{id}/inputs", h.HandleAppendInputs)
	mux.HandleFunc("GET /api/v1/golden-sets/{id}", h.HandleGet)
}

// HandleCreate POST /api/v1/golden-sets
func (h *GoldenSetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateGoldenSetRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, r, types.NewInvalidRequestError("name is required"), h.logger)
		return
	}
	gs, err := h.store.CreateGoldenSet(r.Context(), req.ProjectID, req.Name, req.Inputs)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("golden set created", zap.Uint("golden_set_id", gs.ID), zap.Int("inputs", len(gs.UserInputs)))
	WriteCreated(w, r, gs)
}

// HandleAppendInputs POST /api/v1/golden-sets/{id}/inputs
func (h *GoldenSetHandler) HandleAppendInputs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	var req api.AppendInputsRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Inputs) == 0 {
		WriteError(w, r, types.NewInvalidRequestError("inputs must not be empty"), h.logger)
		return
	}
	created, err := h.store.AppendUserInputs(r.Context(), id, req.Inputs)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	resp := api.AppendInputsResponse{GoldenSetID: id, Positions: make([]int, len(created))}
	for i, in := range created {
		resp.Positions[i] = in.Position
	}
	WriteCreated(w, r, resp)
}

// HandleGet GET /api/v1/golden-sets/{id}
func (h *GoldenSetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	gs, err := h.store.GetGoldenSet(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, gs)
}

func pathID(r *http.Request) (uint, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, types.Errorf(types.ErrInvalidRequest, "invalid id %q", raw).WithHTTPStatus(http.StatusBadRequest)
	}
	return uint(id), nil
}
