package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Tutortoise/pose-demo-service/assets"
	"github.com/Tutortoise/pose-demo-service/config"
	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/emitter"
	"github.com/Tutortoise/pose-demo-service/models"
	"github.com/Tutortoise/pose-demo-service/render"
	"github.com/Tutortoise/pose-demo-service/session"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type AppState struct {
	Config    *config.Config
	State     *session.State
	Images    *assets.Source
	Models    *session.ModelManager
	Results   *session.ResultStore
	Runner    *session.Runner
	Status    *statusBoard
	Pool      *CanvasPool
	Frames    *frameBoard
	Publisher *emitter.MQTTPublisher
}

type FlowResponse struct {
	FlowID     string `json:"flow_id"`
	Generation uint64 `json:"generation"`
	Poses      int    `json:"poses"`
	Drawn      int    `json:"drawn"`
	Message    string `json:"message"`
}

type PosesResponse struct {
	FlowID     string        `json:"flow_id,omitempty"`
	ImageID    string        `json:"image_id,omitempty"`
	Generation uint64        `json:"generation"`
	Poses      []models.Pose `json:"poses"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type flowFunc func(ctx context.Context, surface render.Surface) (*session.Report, error)

func newAppState(cfg *config.Config, estimator detections.Estimator) *AppState {
	state := session.NewState(cfg.Images.Initial)
	state.SetModelConfig(cfg.Model.Initial)
	state.SetParams(cfg.Detection)
	state.SetDisplay(cfg.Display)

	status := &statusBoard{}
	images := assets.NewSource(cfg.Images.BaseURL, cfg.Images.Timeout, cfg.Images.Files)
	images.Origin = cfg.Images.Origin
	manager := session.NewModelManager(state, estimator, status)
	results := session.NewResultStore()
	runner := session.NewRunner(state, manager, images, detections.NewPipeline(detections.NewAllocator()),
		results, render.NewRenderer(), status)

	app := &AppState{
		Config:  cfg,
		State:   state,
		Images:  images,
		Models:  manager,
		Results: results,
		Runner:  runner,
		Status:  status,
		Pool:    NewCanvasPool(cfg.Canvas.PoolSize, cfg.Canvas.AcquireTimeout),
		Frames:  newFrameBoard(),
	}

	if cfg.MQTT.Broker != "" {
		app.Publisher = emitter.NewMQTTPublisher(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
		results.OnCommit(app.Publisher.Hook())
	}
	return app
}

func (s *AppState) Close() {
	if s.Publisher != nil {
		s.Publisher.Disconnect()
	}
	s.Results.Clear()
	s.Models.Close()
	s.Pool.Destroy()
}

func (s *AppState) addRoutes(r *mux.Router) {
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/images", s.handleImages).Methods("GET")
	r.HandleFunc("/state", s.handleState).Methods("GET")
	r.HandleFunc("/poses", s.handlePoses).Methods("GET")
	r.HandleFunc("/frame.png", s.handleFrame).Methods("GET")
	r.Handle("/stream.mjpeg", s.Frames.stream).Methods("GET")

	r.HandleFunc("/bind", s.handleBind).Methods("POST")
	r.HandleFunc("/model", s.handleModel).Methods("PUT")
	r.HandleFunc("/image", s.handleImage).Methods("PUT")
	r.HandleFunc("/params", s.handleParams).Methods("PUT")
	r.HandleFunc("/display", s.handleDisplay).Methods("PUT")
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

// bindInitial runs the first full flow so the page has a frame when it opens.
func (s *AppState) bindInitial(ctx context.Context) {
	report, err := s.runFlow(ctx, s.Runner.Bind)
	if err != nil {
		log.Warnf("Initial bind failed: %v", err)
		return
	}
	log.WithFields(log.Fields{"flow": report.FlowID, "poses": report.Drawn}).Info("initial frame ready")
}

func (s *AppState) runFlow(ctx context.Context, fn flowFunc) (*session.Report, error) {
	canvas, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Pool.Release(canvas)

	report, err := fn(ctx, canvas)
	if err != nil {
		return nil, err
	}
	s.Frames.Update(canvas, report.Generation)
	return report, nil
}

func (s *AppState) redraw(ctx context.Context) (*session.Report, error) {
	return s.runFlow(ctx, func(_ context.Context, surface render.Surface) (*session.Report, error) {
		return s.Runner.Redraw(surface)
	})
}

func (s *AppState) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := indexPage()
	if err != nil {
		sendErrorResponse(w, "internal_error", "Failed to load page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *AppState) handleImages(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, map[string]interface{}{
		"images":   s.Images.IDs(),
		"selected": s.State.ImageID(),
	})
}

func (s *AppState) handleState(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, map[string]interface{}{
		"session": s.State.Snapshot(),
		"status":  s.Status.View(),
	})
}

func (s *AppState) handlePoses(w http.ResponseWriter, _ *http.Request) {
	frame := s.Results.Get()
	poses := []models.Pose{}
	if frame.Result != nil && frame.Result.Poses != nil {
		poses = frame.Result.Poses
	}
	sendJSON(w, PosesResponse{
		FlowID:     frame.FlowID,
		ImageID:    frame.ImageID,
		Generation: frame.Generation,
		Poses:      poses,
	})
}

func (s *AppState) handleFrame(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	ok, err := s.Frames.WritePNG(w)
	if !ok {
		sendErrorResponse(w, "no_frame", MsgNoFrame, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Warnf("write frame: %v", err)
	}
}

func (s *AppState) handleBind(w http.ResponseWriter, r *http.Request) {
	s.respondFlow(w, r, s.Runner.Bind)
}

func (s *AppState) handleModel(w http.ResponseWriter, r *http.Request) {
	cfg := s.State.ModelConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	s.State.SetModelConfig(cfg)
	s.respondFlow(w, r, s.Runner.Bind)
}

func (s *AppState) handleImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageID string `json:"image_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if !s.Images.Known(req.ImageID) {
		sendErrorResponse(w, "unknown_image", "Image is not in the catalogue: "+req.ImageID, http.StatusBadRequest)
		return
	}
	s.State.SetImageID(req.ImageID)
	s.respondFlow(w, r, s.Runner.Estimate)
}

func (s *AppState) handleParams(w http.ResponseWriter, r *http.Request) {
	params := s.State.Params()
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	s.State.SetParams(params)
	s.respondRedraw(w, r)
}

func (s *AppState) handleDisplay(w http.ResponseWriter, r *http.Request) {
	display := s.State.Display()
	if err := json.NewDecoder(r.Body).Decode(&display); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	s.State.SetDisplay(display)
	s.respondRedraw(w, r)
}

func (s *AppState) respondFlow(w http.ResponseWriter, r *http.Request, fn flowFunc) {
	report, err := s.runFlow(r.Context(), fn)
	if err != nil {
		sendFlowError(w, err)
		return
	}
	sendJSON(w, FlowResponse{
		FlowID:     report.FlowID,
		Generation: report.Generation,
		Poses:      report.Poses,
		Drawn:      report.Drawn,
		Message:    poseMessage(report.Drawn),
	})
}

func (s *AppState) respondRedraw(w http.ResponseWriter, r *http.Request) {
	report, err := s.redraw(r.Context())
	if err != nil {
		sendFlowError(w, err)
		return
	}
	sendJSON(w, FlowResponse{
		FlowID:     report.FlowID,
		Generation: report.Generation,
		Poses:      report.Poses,
		Drawn:      report.Drawn,
		Message:    poseMessage(report.Drawn),
	})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := s.Pool.GetMetrics()
	response := map[string]interface{}{
		"pool_size":        s.Pool.Size(),
		"canvases_in_use":  metrics.InUse,
		"total_acquired":   metrics.TotalAcquired,
		"total_released":   metrics.TotalReleased,
		"acquire_failures": metrics.AcquireFailures,
		"wait_time_ms":     metrics.WaitTime.Milliseconds(),
		"model_loaded":     s.State.Snapshot().ModelLoaded,
		"cpu_features":     detections.HostFeatures(),
	}
	if s.Publisher != nil {
		response["mqtt"] = s.Publisher.Stats()
	}
	sendJSON(w, response)
}

func sendFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrStale):
		sendErrorResponse(w, "superseded", MsgStale, http.StatusConflict)
	case errors.Is(err, session.ErrNoModel):
		sendErrorResponse(w, "no_model", session.FailureText(err), http.StatusConflict)
	case errors.Is(err, models.ErrLoadFailure):
		sendErrorResponse(w, "image_load_failed", session.FailureText(err), http.StatusBadGateway)
	case errors.Is(err, models.ErrModelLoadFailure):
		sendErrorResponse(w, "model_load_failed", session.FailureText(err), http.StatusBadGateway)
	case errors.Is(err, models.ErrInferenceFailure):
		sendErrorResponse(w, "inference_failed", session.FailureText(err), http.StatusInternalServerError)
	case errors.Is(err, ErrAcquireTimeout), errors.Is(err, ErrPoolClosed):
		sendErrorResponse(w, "canvas_unavailable", err.Error(), http.StatusServiceUnavailable)
	default:
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
	}
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encode response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
