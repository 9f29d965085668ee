package detections

import (
	"context"
	"image"
	"sync"

	"github.com/Tutortoise/pose-demo-service/models"

	ort "github.com/yalue/onnxruntime_go"
)

// Estimator creates model handles for a configuration.
type Estimator interface {
	Load(ctx context.Context, cfg models.ModelConfig) (Model, error)
}

// Model is a loaded network. Dispose frees its backing resources and may be called more than once.
type Model interface {
	Config() models.ModelConfig
	EstimatePoses(ctx context.Context, input Tensor, opts EstimateOptions) (*Result, error)
	Dispose()
}

type EstimateOptions struct {
	FlipHorizontal bool
	DecodingMethod string
	MaxDetections  int
	ScoreThreshold float64
	NMSRadius      float64
	// SourceSize is the size of the image the tensor was made from; keypoints are reported in its pixel space.
	SourceSize image.Point
}

// Tensor is a model input buffer in NCHW layout.
type Tensor interface {
	Shape() ort.Shape
	Data() []float32
	Destroy() error
}

type TensorAllocator interface {
	Allocate(shape ort.Shape) (Tensor, error)
}

// Destroyer is anything holding device memory.
type Destroyer interface {
	Destroy() error
}

// Result is the ordered pose list of one detection call plus the buffers the capability allocated for it.
type Result struct {
	Poses []models.Pose

	mu       sync.Mutex
	aux      []Destroyer
	disposed bool
}

func NewResult(poses []models.Pose, aux ...Destroyer) *Result {
	return &Result{Poses: poses, aux: aux}
}

// Empty is the result used before anything has been computed.
func Empty() *Result {
	return &Result{disposed: true}
}

// Dispose releases the auxiliary buffers. Only the first call has an effect.
func (r *Result) Dispose() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil
	}
	r.disposed = true

	var firstErr error
	for _, a := range r.aux {
		if err := a.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.aux = nil
	return firstErr
}

func (r *Result) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}
