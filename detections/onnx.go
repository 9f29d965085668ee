package detections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tutortoise/pose-demo-service/models"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxEstimator loads exported pose networks with ONNX Runtime. The exported graph emits
// [1, N, 6+3*K] rows: box, pose score, class, then x, y, score per keypoint in input pixels.
type OnnxEstimator struct {
	ModelDir     string
	ModelBaseURL string
	NumThreads   int
	Client       *http.Client
}

func NewOnnxEstimator(modelDir, modelBaseURL string) *OnnxEstimator {
	return &OnnxEstimator{
		ModelDir:     modelDir,
		ModelBaseURL: modelBaseURL,
		NumThreads:   runtime.NumCPU(),
		Client:       &http.Client{Timeout: 2 * time.Minute},
	}
}

// ModelFileName maps a configuration onto its exported weights file.
func ModelFileName(cfg models.ModelConfig) string {
	mult := strings.ReplaceAll(strconv.FormatFloat(cfg.Multiplier, 'f', -1, 64), ".", "")
	return fmt.Sprintf("%s_s%d_r%d_m%s_q%d.onnx",
		strings.ToLower(cfg.Architecture), cfg.OutputStride, cfg.InputResolution, mult, cfg.QuantBytes)
}

// ValidateConfig rejects the combinations the exported networks do not exist for.
func ValidateConfig(cfg models.ModelConfig) error {
	switch cfg.Architecture {
	case models.MobileNetV1:
		if cfg.Multiplier != 0.5 && cfg.Multiplier != 0.75 && cfg.Multiplier != 1.0 {
			return fmt.Errorf("MobileNetV1 multiplier must be 0.5, 0.75 or 1.0, got %v", cfg.Multiplier)
		}
		if cfg.OutputStride != 8 && cfg.OutputStride != 16 {
			return fmt.Errorf("MobileNetV1 output stride must be 8 or 16, got %d", cfg.OutputStride)
		}
	case models.ResNet50:
		if cfg.Multiplier != 1.0 {
			return fmt.Errorf("ResNet50 multiplier must be 1.0, got %v", cfg.Multiplier)
		}
		if cfg.OutputStride != 16 && cfg.OutputStride != 32 {
			return fmt.Errorf("ResNet50 output stride must be 16 or 32, got %d", cfg.OutputStride)
		}
	default:
		return fmt.Errorf("unsupported architecture %q", cfg.Architecture)
	}
	if cfg.InputResolution <= 0 {
		return fmt.Errorf("input resolution must be positive, got %d", cfg.InputResolution)
	}
	if cfg.QuantBytes != 1 && cfg.QuantBytes != 2 && cfg.QuantBytes != 4 {
		return fmt.Errorf("quant bytes must be 1, 2 or 4, got %d", cfg.QuantBytes)
	}
	return nil
}

func (e *OnnxEstimator) Load(ctx context.Context, cfg models.ModelConfig) (Model, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, models.NewProcessingError(models.ErrModelLoadFailure, "unsupported configuration", err)
	}
	if !ort.IsInitialized() {
		return nil, models.NewProcessingError(models.ErrModelLoadFailure, "onnx runtime", errors.New("environment not initialized"))
	}

	modelPath, err := e.resolve(ctx, cfg)
	if err != nil {
		return nil, models.NewProcessingError(models.ErrModelLoadFailure, "fetch weights", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, models.NewProcessingError(models.ErrModelLoadFailure, "session options", err)
	}
	defer options.Destroy()

	if e.NumThreads > 0 {
		options.SetIntraOpNumThreads(e.NumThreads)
		options.SetInterOpNumThreads(e.NumThreads)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{InputName}, []string{OutputName}, options)
	if err != nil {
		return nil, models.NewProcessingError(models.ErrModelLoadFailure, "create session", err)
	}

	log.WithFields(log.Fields{"model": modelPath, "architecture": cfg.Architecture}).Info("model session created")
	return &onnxModel{session: session, cfg: cfg}, nil
}

func (e *OnnxEstimator) resolve(ctx context.Context, cfg models.ModelConfig) (string, error) {
	name := ModelFileName(cfg)
	modelPath := filepath.Join(e.ModelDir, name)
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if e.ModelBaseURL == "" {
		return "", fmt.Errorf("model file not found: %s", modelPath)
	}

	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		lastErr = e.download(ctx, strings.TrimRight(e.ModelBaseURL, "/")+"/"+name, modelPath)
		if lastErr == nil {
			return modelPath, nil
		}
		log.WithFields(log.Fields{"model": name, "attempt": attempt}).Warnf("weights download failed: %v", lastErr)

		if attempt < RetryAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * RetryDelayMs * time.Millisecond):
			}
		}
	}
	return "", lastErr
}

func (e *OnnxEstimator) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http error: %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	if err := extractFile(resp.Body, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// extractFile copies src into a new file at destPath.
func extractFile(src io.Reader, destPath string) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, src)
	return err
}

type onnxModel struct {
	mu       sync.RWMutex
	session  *ort.DynamicAdvancedSession
	cfg      models.ModelConfig
	disposed bool
}

func (m *onnxModel) Config() models.ModelConfig { return m.cfg }

func (m *onnxModel) EstimatePoses(ctx context.Context, input Tensor, opts EstimateOptions) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disposed {
		return nil, errors.New("model already disposed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, release, err := asValue(input)
	if err != nil {
		return nil, err
	}
	defer release()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{value}, outputs); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		destroyValues(outputs)
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}

	poses, err := DecodePoses(out.GetData(), out.GetShape(), m.cfg.InputResolution, opts)
	if err != nil {
		destroyValues(outputs)
		return nil, fmt.Errorf("process predictions: %w", err)
	}

	return NewResult(poses, out), nil
}

func (m *onnxModel) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	m.disposed = true
	if err := m.session.Destroy(); err != nil {
		log.Warnf("destroy session: %v", err)
	}
}

// asValue exposes a tensor to the runtime, copying host buffers into a temporary runtime tensor.
func asValue(t Tensor) (ort.Value, func(), error) {
	if v, ok := t.(interface{ Value() ort.Value }); ok {
		return v.Value(), func() {}, nil
	}
	tmp, err := ort.NewTensor(t.Shape(), t.Data())
	if err != nil {
		return nil, nil, fmt.Errorf("prepare input buffer: %w", err)
	}
	return tmp, func() { tmp.Destroy() }, nil
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// DecodePoses slices output rows into poses in source image pixels and applies the thresholds.
func DecodePoses(data []float32, shape ort.Shape, inputResolution int, opts EstimateOptions) ([]models.Pose, error) {
	stride := RowHeaderFloats + 3*models.NumKeypoints
	if len(shape) != 3 || shape[0] != 1 || shape[2] != int64(stride) {
		return nil, fmt.Errorf("unexpected output shape %v, want [1 N %d]", shape, stride)
	}
	rows := int(shape[1])
	if len(data) != rows*stride {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(data), rows*stride)
	}
	if inputResolution <= 0 {
		return nil, fmt.Errorf("invalid input resolution %d", inputResolution)
	}

	scaleX, scaleY := 1.0, 1.0
	if opts.SourceSize.X > 0 && opts.SourceSize.Y > 0 {
		scaleX = float64(opts.SourceSize.X) / float64(inputResolution)
		scaleY = float64(opts.SourceSize.Y) / float64(inputResolution)
	}
	width := float64(inputResolution) * scaleX

	poses := make([]models.Pose, 0, rows)
	for r := 0; r < rows; r++ {
		row := data[r*stride : (r+1)*stride]
		score := float64(row[4])
		if score < opts.ScoreThreshold {
			continue
		}

		keypoints := make([]models.Keypoint, models.NumKeypoints)
		for k := 0; k < models.NumKeypoints; k++ {
			raw := row[RowHeaderFloats+3*k : RowHeaderFloats+3*k+3]
			x := float64(raw[0]) * scaleX
			if opts.FlipHorizontal {
				x = width - 1 - x
			}
			keypoints[k] = models.Keypoint{
				Part:     models.PartNames[k],
				Position: models.Point{X: x, Y: float64(raw[1]) * scaleY},
				Score:    float64(raw[2]),
			}
		}
		poses = append(poses, models.Pose{Score: score, Keypoints: keypoints})
	}

	return suppressPoses(poses, opts.NMSRadius, opts.MaxDetections), nil
}
