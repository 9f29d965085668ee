package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/pose-demo-service/models"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Pipeline converts an image into model input and runs multi-person detection on it.
type Pipeline struct {
	allocator    TensorAllocator
	preprocessor *Preprocessor
}

func NewPipeline(allocator TensorAllocator) *Pipeline {
	if allocator == nil {
		allocator = NewAllocator()
	}
	return &Pipeline{
		allocator:    allocator,
		preprocessor: NewPreprocessor(),
	}
}

// Run estimates poses for img. The input tensor it allocates is destroyed exactly once before Run
// returns, whatever the outcome. Failures match models.ErrInferenceFailure and return no result.
func (p *Pipeline) Run(ctx context.Context, model Model, img image.Image, params models.DetectionParams, timings *models.ProcessingTimings) (*Result, error) {
	if model == nil {
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "no model loaded", nil)
	}
	if img == nil {
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "no image", nil)
	}
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	size := model.Config().InputResolution
	if size <= 0 {
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "prepare input buffer", fmt.Errorf("invalid input resolution %d", size))
	}

	prepStart := time.Now()
	tensor, err := p.allocator.Allocate(ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "allocate input tensor", err)
	}
	defer func() {
		if err := tensor.Destroy(); err != nil {
			log.Warnf("destroy input tensor: %v", err)
		}
	}()

	if err := p.preprocessor.Fill(img, size, tensor.Data()); err != nil {
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "prepare input buffer", err)
	}
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	result, err := model.EstimatePoses(ctx, tensor, EstimateOptions{
		FlipHorizontal: false,
		DecodingMethod: DecodingMethod,
		MaxDetections:  params.MaxDetections,
		ScoreThreshold: params.MinPartConfidence,
		NMSRadius:      params.NMSRadius,
		SourceSize:     img.Bounds().Size(),
	})
	timings.Inference = time.Since(inferStart)
	if err != nil {
		if errors.Is(err, models.ErrInferenceFailure) {
			return nil, err
		}
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "estimate poses", err)
	}
	if result == nil {
		return nil, models.NewProcessingError(models.ErrInferenceFailure, "estimate poses", errors.New("no result returned"))
	}

	log.WithFields(log.Fields{
		"poses":      len(result.Poses),
		"preprocess": timings.Preprocess,
		"inference":  timings.Inference,
	}).Debug("inference complete")

	return result, nil
}
