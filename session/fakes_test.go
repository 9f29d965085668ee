package session

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"
	"github.com/Tutortoise/pose-demo-service/render"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type countingDestroyer struct {
	calls atomic.Int32
}

func (d *countingDestroyer) Destroy() error {
	d.calls.Add(1)
	return nil
}

type fakeEstimator struct {
	log   *eventLog
	poses []models.Pose
	err   error

	// the first model created waits on gate inside EstimatePoses after signalling entered
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	loaded []*fakeModel
}

func (e *fakeEstimator) Load(ctx context.Context, cfg models.ModelConfig) (detections.Model, error) {
	e.log.add("load:%s", cfg.Architecture)
	if e.err != nil {
		return nil, e.err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m := &fakeModel{cfg: cfg, log: e.log, poses: e.poses}
	if len(e.loaded) == 0 {
		m.gate = e.gate
		m.entered = e.entered
	}
	e.loaded = append(e.loaded, m)
	return m, nil
}

func (e *fakeEstimator) models() []*fakeModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeModel(nil), e.loaded...)
}

type fakeModel struct {
	cfg     models.ModelConfig
	log     *eventLog
	poses   []models.Pose
	gate    chan struct{}
	entered chan struct{}

	calls    atomic.Int32
	disposed atomic.Int32

	mu      sync.Mutex
	buffers []*countingDestroyer
}

func (m *fakeModel) Config() models.ModelConfig { return m.cfg }

func (m *fakeModel) EstimatePoses(ctx context.Context, input detections.Tensor, opts detections.EstimateOptions) (*detections.Result, error) {
	m.calls.Add(1)
	if m.gate != nil {
		m.entered <- struct{}{}
		<-m.gate
	}

	buf := &countingDestroyer{}
	m.mu.Lock()
	m.buffers = append(m.buffers, buf)
	m.mu.Unlock()

	return detections.NewResult(m.poses, buf), nil
}

func (m *fakeModel) Dispose() {
	if m.disposed.Add(1) == 1 {
		m.log.add("dispose:%s", m.cfg.Architecture)
	}
}

func (m *fakeModel) buffer(i int) *countingDestroyer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffers[i]
}

type fakeImages struct {
	images map[string]image.Image
}

func (f *fakeImages) Load(ctx context.Context, id string) (image.Image, error) {
	img, ok := f.images[id]
	if !ok {
		return nil, models.NewProcessingError(models.ErrLoadFailure, "load image "+id, fmt.Errorf("not found"))
	}
	return img, nil
}

type statusRecorder struct {
	mu      sync.Mutex
	texts   []string
	loading []bool
}

func (s *statusRecorder) SetStatusText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *statusRecorder) ToggleLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = append(s.loading, loading)
}

func (s *statusRecorder) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

type countingSurface struct {
	images   int
	points   int
	segments int
	rects    int
}

func (c *countingSurface) DrawImage(image.Image, image.Point) error { c.images++; return nil }
func (c *countingSurface) DrawPoint(models.Point, float64, color.Color) error {
	c.points++
	return nil
}
func (c *countingSurface) DrawSegment(models.Point, models.Point, float64, color.Color) error {
	c.segments++
	return nil
}
func (c *countingSurface) DrawRect(render.Rect, float64, color.Color) error { c.rects++; return nil }

// gatedSurface signals entered on its first DrawImage and waits for release before drawing.
type gatedSurface struct {
	countingSurface
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSurface) DrawImage(img image.Image, size image.Point) error {
	g.once.Do(func() {
		g.entered <- struct{}{}
		<-g.release
	})
	return g.countingSurface.DrawImage(img, size)
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func poseWithScore(score float64) models.Pose {
	kps := make([]models.Keypoint, models.NumKeypoints)
	for i := range kps {
		kps[i] = models.Keypoint{
			Part:     models.PartNames[i],
			Position: models.Point{X: float64(10 + i*5), Y: float64(20 + i*5)},
			Score:    score,
		}
	}
	return models.Pose{Score: score, Keypoints: kps}
}

type harness struct {
	state     *State
	estimator *fakeEstimator
	manager   *ModelManager
	results   *ResultStore
	status    *statusRecorder
	runner    *Runner
}

func newHarness(poses ...models.Pose) *harness {
	state := NewState("people.jpg")
	cfg := models.DefaultModelConfig()
	cfg.InputResolution = 33
	state.SetModelConfig(cfg)

	status := &statusRecorder{}
	estimator := &fakeEstimator{log: &eventLog{}, poses: poses}
	manager := NewModelManager(state, estimator, status)
	results := NewResultStore()
	images := &fakeImages{images: map[string]image.Image{
		"people.jpg": solidImage(513, 513),
		"other.jpg":  solidImage(200, 100),
	}}
	runner := NewRunner(state, manager, images, detections.NewPipeline(detections.NewHostAllocator()),
		results, render.NewRenderer(), status)

	return &harness{
		state:     state,
		estimator: estimator,
		manager:   manager,
		results:   results,
		status:    status,
		runner:    runner,
	}
}
