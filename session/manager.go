package session

import (
	"context"
	"errors"
	"sync"

	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"

	log "github.com/sirupsen/logrus"
)

var ErrNoModel = errors.New("no model loaded")

// ModelManager owns the active model handle stored in State.
type ModelManager struct {
	state     *State
	estimator detections.Estimator
	status    StatusSink

	// held for writing while the handle is swapped, for reading while it is used
	mu sync.RWMutex
}

func NewModelManager(state *State, estimator detections.Estimator, status StatusSink) *ModelManager {
	if status == nil {
		status = NopStatus{}
	}
	return &ModelManager{state: state, estimator: estimator, status: status}
}

// Reload disposes the active model, then loads cfg and makes it active. On failure no model is active.
func (m *ModelManager) Reload(ctx context.Context, cfg models.ModelConfig) (detections.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.state.activeModel(); old != nil {
		old.Dispose()
		m.state.setActiveModel(nil)
		log.WithField("architecture", old.Config().Architecture).Debug("previous model disposed")
	}

	m.status.ToggleLoading(true)
	defer m.status.ToggleLoading(false)

	model, err := m.estimator.Load(ctx, cfg)
	if err != nil {
		if !errors.Is(err, models.ErrModelLoadFailure) {
			err = models.NewProcessingError(models.ErrModelLoadFailure, "load "+cfg.Architecture, err)
		}
		return nil, err
	}
	if model == nil {
		return nil, models.NewProcessingError(models.ErrModelLoadFailure, "load "+cfg.Architecture, errors.New("estimator returned no model"))
	}

	m.state.setActiveModel(model)
	log.WithFields(log.Fields{
		"architecture": cfg.Architecture,
		"stride":       cfg.OutputStride,
		"resolution":   cfg.InputResolution,
	}).Info("model loaded")
	return model, nil
}

// Use runs fn with the active model. The model cannot be disposed while fn runs.
func (m *ModelManager) Use(fn func(detections.Model) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	model := m.state.activeModel()
	if model == nil {
		return ErrNoModel
	}
	return fn(model)
}

func (m *ModelManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if model := m.state.activeModel(); model != nil {
		model.Dispose()
		m.state.setActiveModel(nil)
	}
}
