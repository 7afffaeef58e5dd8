package ml

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/tests/helpers"
)

func newTestRouter(t *testing.T) (*mux.Router, *ModelRegistry) {
	t.Helper()
	registry, _ := newTestRegistry(t)

	router := mux.NewRouter()
	NewModelRegistryHandler(registry, helpers.GetTestLogger(t)).RegisterRoutes(router)
	return router, registry
}

func doRequest(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerLoadAndList(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPost, "/models", LoadModelRequest{Name: "default"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary ModelSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "default", summary.Name)
	assert.NotEmpty(t, summary.Handle)

	rec = doRequest(router, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Models []ModelSummary `json:"models"`
		Total  int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, summary.Handle, list.Models[0].Handle)

	rec = doRequest(router, http.MethodGet, "/models/"+summary.Handle, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail ModelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.NotNil(t, detail.Info)
	assert.Equal(t, summary.Parameters, detail.Info.Parameters)
}

func TestHandlerCheck(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	router, registry := newTestRouter(t)

	handle, err := registry.Create(env.Context, "default")
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, "/models/"+handle+"/check", CheckRequest{Observations: env.CheatSequence(100)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, handle, resp.Handle)
	helpers.AssertProbability(t, resp.Probability)
	assert.Equal(t, resp.Probability >= 0.5, resp.Cheat)

	rec = doRequest(router, http.MethodPost, "/models/"+handle+"/check", CheckRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.5, resp.Probability)
}

func TestHandlerErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/models/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "MODEL_NOT_FOUND")

	rec = doRequest(router, http.MethodPost, "/models", LoadModelRequest{Name: "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/models", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodDelete, "/models/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerSaveAndRemove(t *testing.T) {
	env := helpers.NewTestEnvironment(t)
	router, registry := newTestRouter(t)

	handle, err := registry.Create(env.Context, "default")
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, "/models/"+handle+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var metadata StorageMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, "default", metadata.Name)

	rec = doRequest(router, http.MethodDelete, "/models/"+handle, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, registry.List())
}
