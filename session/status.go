package session

import (
	"errors"

	"github.com/Tutortoise/pose-demo-service/models"
)

// StatusSink receives user-visible progress.
type StatusSink interface {
	SetStatusText(text string)
	ToggleLoading(loading bool)
}

type NopStatus struct{}

func (NopStatus) SetStatusText(string) {}
func (NopStatus) ToggleLoading(bool)   {}

const StatusPredicting = "Predicting..."

// FailureText is the status shown when a flow aborts with err.
func FailureText(err error) string {
	switch {
	case errors.Is(err, models.ErrLoadFailure):
		return "Could not load the image: " + err.Error()
	case errors.Is(err, models.ErrModelLoadFailure):
		return "Could not load the model: " + err.Error()
	case errors.Is(err, models.ErrInferenceFailure):
		return "Pose estimation failed: " + err.Error()
	case errors.Is(err, ErrNoModel):
		return "No model is loaded"
	default:
		return "Error: " + err.Error()
	}
}
