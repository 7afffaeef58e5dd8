package ml

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/models"
)

// maxRequestBody bounds check request bodies
const maxRequestBody = 8 << 20

// ModelRegistryHandler provides HTTP handlers for the model registry
type ModelRegistryHandler struct {
	registry *ModelRegistry
	logger   *logrus.Logger
}

// NewModelRegistryHandler creates a new model registry handler
func NewModelRegistryHandler(registry *ModelRegistry, logger *logrus.Logger) *ModelRegistryHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelRegistryHandler{
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers the model routes on router
func (mrh *ModelRegistryHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/models", mrh.listModels).Methods(http.MethodGet)
	router.HandleFunc("/models", mrh.loadModel).Methods(http.MethodPost)
	router.HandleFunc("/models/{handle}", mrh.getModel).Methods(http.MethodGet)
	router.HandleFunc("/models/{handle}", mrh.removeModel).Methods(http.MethodDelete)
	router.HandleFunc("/models/{handle}/check", mrh.checkModel).Methods(http.MethodPost)
	router.HandleFunc("/models/{handle}/save", mrh.saveModel).Methods(http.MethodPost)
}

// LoadModelRequest names the model to load or create
type LoadModelRequest struct {
	Name string `json:"name"`
}

// CheckRequest carries either one sequence or several sequences of one event
type CheckRequest struct {
	Observations []models.Observation   `json:"observations,omitempty"`
	Sequences    [][]models.Observation `json:"sequences,omitempty"`
}

// CheckResponse is the classification outcome
type CheckResponse struct {
	Handle      string  `json:"handle"`
	Probability float64 `json:"probability"`
	Cheat       bool    `json:"cheat"`
}

// ModelResponse describes one registered model
type ModelResponse struct {
	ModelSummary
	Info *rnn.Info `json:"info,omitempty"`
}

func (mrh *ModelRegistryHandler) listModels(w http.ResponseWriter, r *http.Request) {
	summaries := mrh.registry.List()
	mrh.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": summaries,
		"total":  len(summaries),
	})
}

func (mrh *ModelRegistryHandler) loadModel(w http.ResponseWriter, r *http.Request) {
	var req LoadModelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		mrh.writeError(w, r, errors.NewValidationError(errors.CodeInvalidFormat, "Invalid JSON").Wrap(err))
		return
	}

	handle, err := mrh.registry.LoadOrCreate(r.Context(), req.Name)
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}

	mm, err := mrh.registry.Get(handle)
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}

	mrh.writeJSON(w, http.StatusOK, summarize(mm))
}

func (mrh *ModelRegistryHandler) getModel(w http.ResponseWriter, r *http.Request) {
	mm, err := mrh.registry.Get(mux.Vars(r)["handle"])
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}

	info, err := mm.Info(r.Context())
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}

	mrh.writeJSON(w, http.StatusOK, ModelResponse{
		ModelSummary: summarize(mm),
		Info:         &info,
	})
}

func (mrh *ModelRegistryHandler) removeModel(w http.ResponseWriter, r *http.Request) {
	if err := mrh.registry.Remove(mux.Vars(r)["handle"]); err != nil {
		mrh.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mrh *ModelRegistryHandler) checkModel(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	mm, err := mrh.registry.Get(handle)
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		mrh.writeError(w, r, errors.NewValidationError(errors.CodeInvalidFormat, "Invalid JSON").Wrap(err))
		return
	}

	var p float64
	if len(req.Sequences) > 0 {
		p, err = mm.CheckAll(r.Context(), req.Sequences)
	} else {
		p, err = mm.Check(r.Context(), req.Observations)
	}
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}

	mrh.writeJSON(w, http.StatusOK, CheckResponse{
		Handle:      handle,
		Probability: p,
		Cheat:       p >= mrh.registry.config.Model.DecisionThreshold,
	})
}

func (mrh *ModelRegistryHandler) saveModel(w http.ResponseWriter, r *http.Request) {
	metadata, err := mrh.registry.Save(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		mrh.writeError(w, r, err)
		return
	}
	mrh.writeJSON(w, http.StatusOK, metadata)
}

func summarize(mm *ManagedModel) ModelSummary {
	return ModelSummary{
		Handle:     mm.Handle,
		Name:       mm.Name,
		CreatedAt:  mm.CreatedAt,
		Parameters: mm.parameters,
		Pending:    mm.executor.Pending(),
	}
}

func (mrh *ModelRegistryHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		mrh.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (mrh *ModelRegistryHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.NewInternalError(err.Error())
	}

	status := appErr.HTTPStatus
	switch {
	case errors.Is(err, errors.ErrModelNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrExecutorClosed):
		status = http.StatusServiceUnavailable
	case status == 0:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		mrh.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}

	mrh.writeJSON(w, status, errors.ErrorResponse{
		Error:     appErr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
