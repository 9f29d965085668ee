package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Tutortoise/pose-demo-service/config"
	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"

	"github.com/gorilla/mux"
)

type stubEstimator struct {
	mu    sync.Mutex
	poses []models.Pose
	err   error
	calls atomic.Int32
}

func (e *stubEstimator) Load(ctx context.Context, cfg models.ModelConfig) (detections.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &stubModel{cfg: cfg, owner: e}, nil
}

func (e *stubEstimator) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

type stubModel struct {
	cfg   models.ModelConfig
	owner *stubEstimator
}

func (m *stubModel) Config() models.ModelConfig { return m.cfg }
func (m *stubModel) Dispose()                   {}

func (m *stubModel) EstimatePoses(ctx context.Context, input detections.Tensor, opts detections.EstimateOptions) (*detections.Result, error) {
	m.owner.calls.Add(1)
	return detections.NewResult(m.owner.poses), nil
}

func testPose(score float64) models.Pose {
	kps := make([]models.Keypoint, models.NumKeypoints)
	for i := range kps {
		kps[i] = models.Keypoint{
			Part:     models.PartNames[i],
			Position: models.Point{X: float64(20 + i*10), Y: float64(30 + i*10)},
			Score:    score,
		}
	}
	return models.Pose{Score: score, Keypoints: kps}
}

// imageServer serves one PNG for every path and stores each request's Origin header in origin.
func imageServer(t *testing.T, origin *atomic.Value) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.Store(r.Header.Get("Origin"))
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, origin *atomic.Value) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Images.BaseURL = imageServer(t, origin).URL + "/"
	cfg.Images.Files = []string{"people.png", "street.png"}
	cfg.Images.Initial = "people.png"
	cfg.Model.Initial.InputResolution = 33
	return cfg
}

func newTestApp(t *testing.T, estimator *stubEstimator) (*AppState, *mux.Router) {
	t.Helper()
	return newTestAppWithConfig(t, estimator, testConfig(t, &atomic.Value{}))
}

func newTestAppWithConfig(t *testing.T, estimator *stubEstimator, cfg *config.Config) (*AppState, *mux.Router) {
	t.Helper()
	app := newAppState(cfg, estimator)
	t.Cleanup(app.Close)

	r := mux.NewRouter()
	app.addRoutes(r)
	app.addMonitoringRoutes(r)
	return app, r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeFlow(t *testing.T, rec *httptest.ResponseRecorder) FlowResponse {
	t.Helper()
	var resp FlowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

// TestBindRendersAboveThreshold validates a full flow over HTTP draws only the pose at or above the
// pose threshold while storing every detected pose.
func TestBindRendersAboveThreshold(t *testing.T) {
	_, r := newTestApp(t, &stubEstimator{poses: []models.Pose{testPose(0.3), testPose(0.05)}})

	rec := do(t, r, "POST", "/bind", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /bind = %d: %s", rec.Code, rec.Body.String())
	}
	flow := decodeFlow(t, rec)
	if flow.Poses != 2 || flow.Drawn != 1 {
		t.Errorf("flow = %+v, want 2 poses with 1 drawn", flow)
	}
	if flow.Message != MsgSinglePose {
		t.Errorf("Message = %q", flow.Message)
	}

	rec = do(t, r, "GET", "/poses", "")
	var poses PosesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &poses); err != nil {
		t.Fatalf("decode poses: %v", err)
	}
	if len(poses.Poses) != 2 || poses.ImageID != "people.png" {
		t.Errorf("GET /poses = %+v", poses)
	}

	rec = do(t, r, "GET", "/frame.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /frame.png = %d", rec.Code)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("frame is not a PNG: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 513, Y: 513}) {
		t.Errorf("frame size = %v, want 513x513", got)
	}
}

// TestParamsRedrawWithoutInference validates threshold changes only redraw the stored result.
func TestParamsRedrawWithoutInference(t *testing.T) {
	estimator := &stubEstimator{poses: []models.Pose{testPose(0.3), testPose(0.05)}}
	_, r := newTestApp(t, estimator)

	if rec := do(t, r, "POST", "/bind", ""); rec.Code != http.StatusOK {
		t.Fatalf("POST /bind = %d", rec.Code)
	}

	rec := do(t, r, "PUT", "/params", `{"min_pose_confidence": 0.01}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /params = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeFlow(t, rec).Drawn; got != 2 {
		t.Errorf("Drawn = %d, want 2", got)
	}
	if got := estimator.calls.Load(); got != 1 {
		t.Errorf("EstimatePoses called %d times, want 1", got)
	}
}

func TestDisplayKeepsUnsetFlags(t *testing.T) {
	app, r := newTestApp(t, &stubEstimator{})

	rec := do(t, r, "PUT", "/display", `{"show_bounding_box": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /display = %d: %s", rec.Code, rec.Body.String())
	}
	want := models.DisplayFlags{ShowKeypoints: true, ShowSkeleton: true, ShowBoundingBox: true}
	if got := app.State.Display(); got != want {
		t.Errorf("Display() = %+v, want %+v", got, want)
	}
}

func TestImageRejectsUnknownID(t *testing.T) {
	app, r := newTestApp(t, &stubEstimator{})

	rec := do(t, r, "PUT", "/image", `{"image_id": "nope.jpg"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PUT /image = %d, want 400", rec.Code)
	}
	if got := app.State.ImageID(); got != "people.png" {
		t.Errorf("ImageID() = %q, selection should be unchanged", got)
	}
}

func TestImageEstimatesWithLoadedModel(t *testing.T) {
	estimator := &stubEstimator{poses: []models.Pose{testPose(0.9)}}
	app, r := newTestApp(t, estimator)
	if rec := do(t, r, "POST", "/bind", ""); rec.Code != http.StatusOK {
		t.Fatalf("POST /bind = %d", rec.Code)
	}

	rec := do(t, r, "PUT", "/image", `{"image_id": "street.png"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /image = %d: %s", rec.Code, rec.Body.String())
	}
	if got := app.Results.Get().ImageID; got != "street.png" {
		t.Errorf("stored frame image = %q, want street.png", got)
	}
}

// TestModelLoadFailure validates a failed reload surfaces as model_load_failed with the loading
// indicator cleared and a status message set.
func TestModelLoadFailure(t *testing.T) {
	estimator := &stubEstimator{}
	app, r := newTestApp(t, estimator)
	estimator.fail(errors.New("weights not found"))

	rec := do(t, r, "PUT", "/model", `{"architecture":"ResNet50","output_stride":32,"input_resolution":257,"multiplier":1,"quant_bytes":2}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("PUT /model = %d, want 502", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != "model_load_failed" {
		t.Errorf("Code = %q", resp.Code)
	}

	view := app.Status.View()
	if view.Loading {
		t.Error("loading indicator still on")
	}
	if view.Text == "" {
		t.Error("no status message after failure")
	}
	if got := app.State.ModelConfig().Architecture; got != models.ResNet50 {
		t.Errorf("ModelConfig().Architecture = %q", got)
	}
}

func TestFrameBeforeRender(t *testing.T) {
	_, r := newTestApp(t, &stubEstimator{})

	rec := do(t, r, "GET", "/frame.png", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /frame.png = %d, want 404", rec.Code)
	}
}

func TestStateAndMetrics(t *testing.T) {
	_, r := newTestApp(t, &stubEstimator{})

	rec := do(t, r, "GET", "/state", "")
	var state struct {
		Session struct {
			ImageID string `json:"image_id"`
		} `json:"session"`
		Status StatusView `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Session.ImageID != "people.png" {
		t.Errorf("session.image_id = %q", state.Session.ImageID)
	}

	rec = do(t, r, "GET", "/metrics", "")
	var metrics map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics["pool_size"] != float64(2) {
		t.Errorf("pool_size = %v, want 2", metrics["pool_size"])
	}
	if _, ok := metrics["cpu_features"]; !ok {
		t.Error("metrics missing cpu_features")
	}
}

func TestIndexPage(t *testing.T) {
	_, r := newTestApp(t, &stubEstimator{})

	rec := do(t, r, "GET", "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/stream.mjpeg") {
		t.Errorf("GET / = %d", rec.Code)
	}
}

func TestPoseMessage(t *testing.T) {
	cases := map[int]string{0: MsgNoPoses, 1: MsgSinglePose, 3: "3 poses detected."}
	for n, want := range cases {
		if got := poseMessage(n); got != want {
			t.Errorf("poseMessage(%d) = %q, want %q", n, got, want)
		}
	}
}


// TestModelUpdateKeepsOmittedFields validates a partial model body changes only the fields it names.
func TestModelUpdateKeepsOmittedFields(t *testing.T) {
	app, r := newTestApp(t, &stubEstimator{})
	want := app.State.ModelConfig()
	want.InputResolution = 65

	rec := do(t, r, "PUT", "/model", `{"input_resolution": 65}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /model = %d: %s", rec.Code, rec.Body.String())
	}
	if got := app.State.ModelConfig(); got != want {
		t.Errorf("ModelConfig() = %+v, want %+v", got, want)
	}
}

func TestImageRequestsCarryOrigin(t *testing.T) {
	var origin atomic.Value
	cfg := testConfig(t, &origin)
	cfg.Images.Origin = "http://localhost:8080"
	_, r := newTestAppWithConfig(t, &stubEstimator{}, cfg)

	if rec := do(t, r, "POST", "/bind", ""); rec.Code != http.StatusOK {
		t.Fatalf("POST /bind = %d: %s", rec.Code, rec.Body.String())
	}
	if got, _ := origin.Load().(string); got != "http://localhost:8080" {
		t.Errorf("Origin header = %q, want http://localhost:8080", got)
	}
}
