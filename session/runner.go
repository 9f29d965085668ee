package session

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"
	"github.com/Tutortoise/pose-demo-service/render"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrStale is returned by a flow superseded by a newer one before it could commit.
var ErrStale = errors.New("flow superseded by a newer request")

type ImageLoader interface {
	Load(ctx context.Context, imageID string) (image.Image, error)
}

type Report struct {
	FlowID     string                   `json:"flow_id"`
	Generation uint64                   `json:"generation"`
	Poses      int                      `json:"poses"`
	Drawn      int                      `json:"drawn"`
	Timings    models.ProcessingTimings `json:"-"`
}

// Runner sequences model reload, image load, inference, storage and rendering. Each flow takes a
// generation number; only the newest flow may commit its result.
type Runner struct {
	state    *State
	models   *ModelManager
	images   ImageLoader
	pipeline *detections.Pipeline
	results  *ResultStore
	renderer *render.Renderer
	status   StatusSink

	generation atomic.Uint64
}

func NewRunner(state *State, manager *ModelManager, images ImageLoader, pipeline *detections.Pipeline,
	results *ResultStore, renderer *render.Renderer, status StatusSink) *Runner {
	if status == nil {
		status = NopStatus{}
	}
	return &Runner{
		state:    state,
		models:   manager,
		images:   images,
		pipeline: pipeline,
		results:  results,
		renderer: renderer,
		status:   status,
	}
}

// Bind reloads the configured model, then estimates and draws poses for the selected image.
func (r *Runner) Bind(ctx context.Context, surface render.Surface) (*Report, error) {
	gen := r.generation.Add(1)
	timings := &models.ProcessingTimings{FlowID: uuid.NewString()}
	start := time.Now()

	loadStart := time.Now()
	if _, err := r.models.Reload(ctx, r.state.ModelConfig()); err != nil {
		return nil, r.fail(gen, err)
	}
	timings.ModelLoad = time.Since(loadStart)

	return r.estimate(ctx, gen, surface, timings, start)
}

// Estimate runs inference for the selected image with the model already loaded.
func (r *Runner) Estimate(ctx context.Context, surface render.Surface) (*Report, error) {
	gen := r.generation.Add(1)
	timings := &models.ProcessingTimings{FlowID: uuid.NewString()}
	return r.estimate(ctx, gen, surface, timings, time.Now())
}

// Redraw renders the stored frame with the current thresholds and display flags. It returns
// ErrStale when another frame was committed while drawing.
func (r *Runner) Redraw(surface render.Surface) (*Report, error) {
	frame := r.results.Get()
	drawn, err := r.draw(surface, frame)
	if err != nil {
		return nil, err
	}
	if r.results.Get().Generation != frame.Generation {
		return nil, ErrStale
	}

	poses := 0
	if frame.Result != nil {
		poses = len(frame.Result.Poses)
	}
	return &Report{
		FlowID:     frame.FlowID,
		Generation: frame.Generation,
		Poses:      poses,
		Drawn:      drawn,
	}, nil
}

func (r *Runner) estimate(ctx context.Context, gen uint64, surface render.Surface, timings *models.ProcessingTimings, start time.Time) (*Report, error) {
	r.status.SetStatusText(StatusPredicting)

	imageID := r.state.ImageID()
	fetchStart := time.Now()
	img, err := r.images.Load(ctx, imageID)
	if err != nil {
		return nil, r.fail(gen, err)
	}
	timings.ImageFetch = time.Since(fetchStart)

	if r.stale(gen) {
		return nil, ErrStale
	}

	var (
		result *detections.Result
		model  models.ModelConfig
	)
	err = r.models.Use(func(m detections.Model) error {
		model = m.Config()
		var runErr error
		result, runErr = r.pipeline.Run(ctx, m, img, r.state.Params(), timings)
		return runErr
	})
	if err != nil {
		return nil, r.fail(gen, err)
	}

	frame := &Frame{
		FlowID:     timings.FlowID,
		Generation: gen,
		ImageID:    imageID,
		Image:      img,
		Model:      model,
		Result:     result,
		CreatedAt:  time.Now(),
	}
	if !r.results.Commit(frame, func() bool { return !r.stale(gen) }) {
		log.WithFields(log.Fields{"flow": timings.FlowID, "generation": gen}).Debug("discarding stale result")
		return nil, ErrStale
	}

	renderStart := time.Now()
	drawn, err := r.draw(surface, *frame)
	if err != nil {
		return nil, r.fail(gen, err)
	}
	timings.Render = time.Since(renderStart)

	// a newer flow may have committed and drawn while this one was rendering
	if r.stale(gen) {
		log.WithFields(log.Fields{"flow": timings.FlowID, "generation": gen}).Debug("discarding stale render")
		return nil, ErrStale
	}
	timings.Total = time.Since(start)

	r.status.SetStatusText("")
	logTimings(timings)

	return &Report{
		FlowID:     timings.FlowID,
		Generation: gen,
		Poses:      len(result.Poses),
		Drawn:      drawn,
		Timings:    *timings,
	}, nil
}

func (r *Runner) draw(surface render.Surface, frame Frame) (int, error) {
	if surface == nil {
		return 0, nil
	}
	params := r.state.Params()
	var poses []models.Pose
	if frame.Result != nil {
		poses = frame.Result.Poses
	}
	drawn, err := r.renderer.Render(surface, frame.Image, poses, params.MinPartConfidence, params.MinPoseConfidence, r.state.Display())
	if err != nil {
		return drawn, err
	}
	log.WithField("poses", drawn).Debug("poses drawn")
	return drawn, nil
}

func (r *Runner) stale(gen uint64) bool {
	return r.generation.Load() != gen
}

// fail reports err to the status sink unless a newer flow has taken over.
func (r *Runner) fail(gen uint64, err error) error {
	if r.stale(gen) {
		log.WithField("generation", gen).Debugf("stale flow failed: %v", err)
		return err
	}
	r.status.SetStatusText(FailureText(err))
	log.WithField("generation", gen).Errorf("flow failed: %v", err)
	return err
}

func logTimings(t *models.ProcessingTimings) {
	log.WithFields(log.Fields{
		"flow":        t.FlowID,
		"model_load":  t.ModelLoad,
		"image_fetch": t.ImageFetch,
		"preprocess":  t.Preprocess,
		"inference":   t.Inference,
		"render":      t.Render,
		"total":       t.Total,
	}).Debug("processing times")
}
