// Package session owns the demo's mutable configuration and sequences model reloads, inference,
// result storage and rendering.
package session

import (
	"sync"

	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"
)

// State is the single configuration record every stage reads. Values are stored as given; range
// checking is left to the detection capability.
type State struct {
	mu      sync.RWMutex
	model   models.ModelConfig
	imageID string
	params  models.DetectionParams
	display models.DisplayFlags

	// written only by ModelManager
	active detections.Model
}

type Snapshot struct {
	Model       models.ModelConfig     `json:"model"`
	ImageID     string                 `json:"image_id"`
	Params      models.DetectionParams `json:"params"`
	Display     models.DisplayFlags    `json:"display"`
	ModelLoaded bool                   `json:"model_loaded"`
}

func NewState(imageID string) *State {
	return &State{
		model:   models.DefaultModelConfig(),
		imageID: imageID,
		params:  models.DefaultDetectionParams(),
		display: models.DefaultDisplayFlags(),
	}
}

func (s *State) ModelConfig() models.ModelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *State) SetModelConfig(cfg models.ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = cfg
}

func (s *State) ImageID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageID
}

func (s *State) SetImageID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageID = id
}

func (s *State) Params() models.DetectionParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *State) SetParams(p models.DetectionParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

func (s *State) Display() models.DisplayFlags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

func (s *State) SetDisplay(d models.DisplayFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display = d
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Model:       s.model,
		ImageID:     s.imageID,
		Params:      s.params,
		Display:     s.display,
		ModelLoaded: s.active != nil,
	}
}

func (s *State) activeModel() detections.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *State) setActiveModel(m detections.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = m
}
