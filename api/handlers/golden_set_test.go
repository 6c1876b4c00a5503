package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/evalflow/store"
)

func setupStore(t *testing.T) *store.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.AutoMigrate(db))
	return store.NewGormStore(db, zap.NewNop())
}

func serve(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func goldenSetMux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	NewGoldenSetHandler(setupStore(t), zap.NewNop()).Register(mux)
	return mux
}

func TestGoldenSetHandler_Lifecycle(t *testing.T) {
	mux := goldenSetMux(t)

	w := serve(mux, http.MethodPost, "/api/v1/golden-sets", `{"project_id":"proj-1","name":"checkout","inputs":["A","B"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created store.GoldenSet
	decodeData(t, w, &created)
	require.NotZero(t, created.ID)
	assert.Len(t, created.UserInputs, 2)

	w = serve(mux, http.MethodPost, "/api/v1/golden-sets/1/inputs", `{"inputs":["C"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var appended struct {
		Positions []int `json:"positions"`
	}
	decodeData(t, w, &appended)
	assert.Equal(t, []int{2}, appended.Positions)

	w = serve(mux, http.MethodGet, "/api/v1/golden-sets/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var loaded store.GoldenSet
	decodeData(t, w, &loaded)
	require.Len(t, loaded.UserInputs, 3)
	assert.Equal(t, "C", loaded.UserInputs[2].Content)
	assert.Empty(t, loaded.CopilotOutputs)
}

func TestGoldenSetHandler_Errors(t *testing.T) {
	mux := goldenSetMux(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"missing name", http.MethodPost, "/api/v1/golden-sets", `{"project_id":"p"}`, http.StatusBadRequest},
		{"missing project", http.MethodPost, "/api/v1/golden-sets", `{"name":"n"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/golden-sets", `{"name":"n","bogus":true}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/v1/golden-sets/abc", "", http.StatusBadRequest},
		{"zero id", http.MethodGet, "/api/v1/golden-sets/0", "", http.StatusBadRequest},
		{"not found", http.MethodGet, "/api/v1/golden-sets/42", "", http.StatusNotFound},
		{"empty inputs", http.MethodPost, "/api/v1/golden-sets/1/inputs", `{"inputs":[]}`, http.StatusBadRequest},
		{"append to missing", http.MethodPost, "/api/v1/golden-sets/42/inputs", `{"inputs":["x"]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(mux, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}
