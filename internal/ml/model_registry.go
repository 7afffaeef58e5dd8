package ml

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/models"
)

// Recorder receives model activity, typically the Prometheus metrics
type Recorder interface {
	RecordClassification(model string, probability float64, duration time.Duration)
	RecordLearnStep(model string, label bool)
	SetModelsLoaded(count int)
	SetModelParameters(model string, count int)
	SetExecutorQueueDepth(model string, depth int)
	DeleteModel(model string)
	EpochObserver(model string) evaluation.Observer
}

// RegistryConfig configures the models a registry creates
type RegistryConfig struct {
	Model             rnn.Config `json:"model" yaml:"model" mapstructure:"model"`
	ExecutorQueueSize int        `json:"executor_queue_size" yaml:"executor_queue_size" mapstructure:"executor_queue_size"`
}

// DefaultRegistryConfig returns the default model shape and queue size
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		Model:             rnn.DefaultConfig(),
		ExecutorQueueSize: constants.DefaultExecutorQueueSize,
	}
}

// ModelRegistry holds live models behind opaque handles. Models are loaded
// from and saved to a ModelStorage by name; every model runs on its own Executor.
type ModelRegistry struct {
	config    *RegistryConfig
	storage   ModelStorage
	logger    *logrus.Logger
	recorder  Recorder
	observers []evaluation.Observer

	mu     sync.RWMutex
	models map[string]*ManagedModel // by handle
	names  map[string]string        // name -> handle
	closed bool
}

// ModelSummary describes a registered model
type ModelSummary struct {
	Handle     string    `json:"handle" yaml:"handle"`
	Name       string    `json:"name" yaml:"name"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Parameters int       `json:"parameters" yaml:"parameters"`
	Pending    int       `json:"pending" yaml:"pending"`
}

// NewModelRegistry creates a registry on top of a model storage
func NewModelRegistry(storage ModelStorage, config *RegistryConfig, logger *logrus.Logger) (*ModelRegistry, error) {
	if storage == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "model storage cannot be nil")
	}

	if config == nil {
		config = DefaultRegistryConfig()
	}

	if err := config.Model.Validate(); err != nil {
		return nil, errors.ErrInvalidConfiguration.Wrap(err)
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &ModelRegistry{
		config:  config,
		storage: storage,
		logger:  logger,
		models:  make(map[string]*ManagedModel),
		names:   make(map[string]string),
	}, nil
}

// SetRecorder attaches a recorder to models registered afterwards
func (mr *ModelRegistry) SetRecorder(recorder Recorder) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.recorder = recorder
}

// AddObserver attaches an epoch observer to models registered afterwards
func (mr *ModelRegistry) AddObserver(observer evaluation.Observer) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.observers = append(mr.observers, observer)
}

// Storage returns the artifact storage
func (mr *ModelRegistry) Storage() ModelStorage {
	return mr.storage
}

// Create registers a fresh, untrained model under name without touching storage
func (mr *ModelRegistry) Create(ctx context.Context, name string) (string, error) {
	if err := ValidateModelName(name); err != nil {
		return "", err
	}

	if _, exists := mr.Lookup(name); exists {
		return "", errors.NewValidationError(errors.CodeInvalidInput, "model already registered").WithDetails(name)
	}

	model, err := mr.newModel(name)
	if err != nil {
		return "", err
	}

	return mr.register(name, model)
}

// LoadOrCreate returns the handle of the model registered under name, loading
// it from storage on first use. A missing artifact creates a fresh model and
// stores it. An unreadable or mismatched artifact is replaced by a fresh model.
func (mr *ModelRegistry) LoadOrCreate(ctx context.Context, name string) (string, error) {
	if err := ValidateModelName(name); err != nil {
		return "", err
	}

	if mm, exists := mr.Lookup(name); exists {
		return mm.Handle, nil
	}

	model, err := mr.newModel(name)
	if err != nil {
		return "", err
	}

	logger := mr.logger.WithField("model", name)

	artifact, err := mr.storage.Retrieve(ctx, name)
	switch {
	case err == nil:
		loadErr := model.Load(artifact)
		artifact.Close()

		if loadErr != nil {
			if !errors.Is(loadErr, errors.ErrBadModelFile) && !errors.Is(loadErr, errors.ErrArchitectureMismatch) {
				return "", loadErr
			}
			logger.WithError(loadErr).Warn("Stored model is unusable, replacing it with a fresh model")
			mr.store(ctx, name, model)
		} else {
			logger.WithField("parameters", model.Parameters()).Info("Loaded model")
		}

	case errors.Is(err, errors.ErrModelNotFound):
		logger.Info("No stored model, creating a fresh one")
		mr.store(ctx, name, model)

	default:
		return "", err
	}

	return mr.register(name, model)
}

// Get returns the model registered under handle
func (mr *ModelRegistry) Get(handle string) (*ManagedModel, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	mm, exists := mr.models[handle]
	if !exists {
		return nil, errors.ErrModelNotFound.WithDetails(handle)
	}
	return mm, nil
}

// Lookup returns the model registered under name
func (mr *ModelRegistry) Lookup(name string) (*ManagedModel, bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	handle, exists := mr.names[name]
	if !exists {
		return nil, false
	}
	return mr.models[handle], true
}

// Save writes the model behind handle to storage
func (mr *ModelRegistry) Save(ctx context.Context, handle string) (*StorageMetadata, error) {
	mm, err := mr.Get(handle)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := mm.Do(ctx, func(m *rnn.Model) error {
		return m.Save(&buf)
	}); err != nil {
		return nil, err
	}

	return mr.storage.Store(ctx, mm.Name, &buf)
}

// SaveAll saves every registered model, logging failures. It returns the number saved.
func (mr *ModelRegistry) SaveAll(ctx context.Context) int {
	saved := 0
	for _, summary := range mr.List() {
		if _, err := mr.Save(ctx, summary.Handle); err != nil {
			mr.logger.WithError(err).WithField("model", summary.Name).Error("Failed to save model")
			continue
		}
		saved++
	}
	return saved
}

// Remove stops the model's executor and forgets the handle. The stored artifact is kept.
func (mr *ModelRegistry) Remove(handle string) error {
	mr.mu.Lock()
	mm, exists := mr.models[handle]
	if !exists {
		mr.mu.Unlock()
		return errors.ErrModelNotFound.WithDetails(handle)
	}
	delete(mr.models, handle)
	delete(mr.names, mm.Name)
	count := len(mr.models)
	recorder := mr.recorder
	mr.mu.Unlock()

	mm.executor.Close()

	if recorder != nil {
		recorder.DeleteModel(mm.Name)
		recorder.SetModelsLoaded(count)
	}

	mr.logger.WithFields(logrus.Fields{
		"model":  mm.Name,
		"handle": handle,
	}).Info("Removed model")
	return nil
}

// List returns the registered models sorted by name
func (mr *ModelRegistry) List() []ModelSummary {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	summaries := make([]ModelSummary, 0, len(mr.models))
	for _, mm := range mr.models {
		summaries = append(summaries, ModelSummary{
			Handle:     mm.Handle,
			Name:       mm.Name,
			CreatedAt:  mm.CreatedAt,
			Parameters: mm.parameters,
			Pending:    mm.executor.Pending(),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

// Close stops every executor after its queued tasks ran. The registry is unusable afterwards.
func (mr *ModelRegistry) Close() {
	mr.mu.Lock()
	if mr.closed {
		mr.mu.Unlock()
		return
	}
	mr.closed = true
	executors := make([]*Executor, 0, len(mr.models))
	for _, mm := range mr.models {
		executors = append(executors, mm.executor)
	}
	mr.mu.Unlock()

	for _, executor := range executors {
		executor.Close()
	}
}

func (mr *ModelRegistry) newModel(name string) (*rnn.Model, error) {
	model, err := rnn.New(mr.config.Model, mr.logger)
	if err != nil {
		return nil, err
	}
	model.SetName(name)
	return model, nil
}

// store persists a model, logging failures
func (mr *ModelRegistry) store(ctx context.Context, name string, model *rnn.Model) {
	var buf bytes.Buffer
	if err := model.Save(&buf); err != nil {
		mr.logger.WithError(err).WithField("model", name).Error("Failed to serialize model")
		return
	}
	if _, err := mr.storage.Store(ctx, name, &buf); err != nil {
		mr.logger.WithError(err).WithField("model", name).Error("Failed to store model")
	}
}

func (mr *ModelRegistry) register(name string, model *rnn.Model) (string, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.closed {
		return "", errors.ErrExecutorClosed.WithDetails("registry closed")
	}

	// a concurrent LoadOrCreate may have won
	if handle, exists := mr.names[name]; exists {
		return handle, nil
	}

	if mr.recorder != nil {
		model.AddObserver(mr.recorder.EpochObserver(name))
	}
	for _, observer := range mr.observers {
		model.AddObserver(observer)
	}

	mm := &ManagedModel{
		Handle:     uuid.New().String(),
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		model:      model,
		executor:   NewExecutor(name, mr.config.ExecutorQueueSize, mr.logger),
		recorder:   mr.recorder,
		parameters: model.Parameters(),
	}

	mr.models[mm.Handle] = mm
	mr.names[name] = mm.Handle

	if mr.recorder != nil {
		mr.recorder.SetModelsLoaded(len(mr.models))
		mr.recorder.SetModelParameters(name, mm.parameters)
	}

	mr.logger.WithFields(logrus.Fields{
		"model":      name,
		"handle":     mm.Handle,
		"parameters": mm.parameters,
	}).Info("Registered model")

	return mm.Handle, nil
}

// ManagedModel is a registered model. Every operation runs on the model's executor.
type ManagedModel struct {
	Handle    string
	Name      string
	CreatedAt time.Time

	model      *rnn.Model
	executor   *Executor
	recorder   Recorder
	parameters int
}

// Do runs fn with exclusive access to the model. Cancelling ctx abandons the
// wait, and fn may still be running when Do returns.
func (mm *ManagedModel) Do(ctx context.Context, fn func(m *rnn.Model) error) error {
	mm.trackQueue()
	return mm.executor.Submit(ctx, func() error {
		return fn(mm.model)
	})
}

// DoToCompletion is Do, except that once fn has started it is waited for even
// if ctx is cancelled.
func (mm *ManagedModel) DoToCompletion(ctx context.Context, fn func(m *rnn.Model) error) error {
	mm.trackQueue()
	return mm.executor.Run(ctx, func() error {
		return fn(mm.model)
	})
}

// doValue hands fn's result back over a channel, so an abandoned task never
// writes memory the caller reads.
func doValue[T any](ctx context.Context, do func(context.Context, func(*rnn.Model) error) error, fn func(m *rnn.Model) T) (T, error) {
	out := make(chan T, 1)
	if err := do(ctx, func(m *rnn.Model) error {
		out <- fn(m)
		return nil
	}); err != nil {
		var zero T
		return zero, err
	}
	return <-out, nil
}

// Check returns the cheat probability of one sequence
func (mm *ManagedModel) Check(ctx context.Context, obs []models.Observation) (float64, error) {
	return doValue(ctx, mm.Do, func(m *rnn.Model) float64 {
		started := time.Now()
		p := m.CheckData(obs)
		mm.recordClassification(p, time.Since(started))
		return p
	})
}

// CheckAll returns the mean cheat probability over several sequences of one event
func (mm *ManagedModel) CheckAll(ctx context.Context, seqs [][]models.Observation) (float64, error) {
	return doValue(ctx, mm.Do, func(m *rnn.Model) float64 {
		started := time.Now()
		p := m.CheckAll(seqs)
		mm.recordClassification(p, time.Since(started))
		return p
	})
}

// Learn runs one training step on a labelled sequence
func (mm *ManagedModel) Learn(ctx context.Context, obs []models.Observation, label bool) error {
	return mm.Do(ctx, func(m *rnn.Model) error {
		m.LearnByData(obs, label)
		if mm.recorder != nil {
			mm.recorder.RecordLearnStep(mm.Name, label)
		}
		return nil
	})
}

// Train runs TrainEpochs. Once started, training runs to completion and its
// result is returned even if ctx is cancelled meanwhile.
func (mm *ManagedModel) Train(ctx context.Context, dataset []models.Sample, epochs int) (*rnn.TrainingResult, error) {
	return doValue(ctx, mm.DoToCompletion, func(m *rnn.Model) *rnn.TrainingResult {
		return m.TrainEpochs(dataset, epochs)
	})
}

// Info describes the model
func (mm *ManagedModel) Info(ctx context.Context) (rnn.Info, error) {
	return doValue(ctx, mm.Do, func(m *rnn.Model) rnn.Info {
		return m.Info()
	})
}

func (mm *ManagedModel) trackQueue() {
	if mm.recorder != nil {
		mm.recorder.SetExecutorQueueDepth(mm.Name, mm.executor.Pending()+1)
	}
}

func (mm *ManagedModel) recordClassification(p float64, d time.Duration) {
	if mm.recorder != nil {
		mm.recorder.RecordClassification(mm.Name, p, d)
	}
}
