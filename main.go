package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/pose-demo-service/config"
	"github.com/Tutortoise/pose-demo-service/detections"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Debug || *debug {
		log.SetLevel(log.DebugLevel)
	}

	libPath, err := resolveLibrary(cfg.Model.ORTLibrary)
	if err != nil {
		log.Fatalf("Failed to locate ONNX Runtime: %v", err)
	}

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("Failed to initialize ONNX environment: %v", err)
	}
	defer ort.DestroyEnvironment()

	log.WithField("features", detections.HostFeatures()).Debug("host cpu")

	estimator := detections.NewOnnxEstimator(cfg.Model.Dir, cfg.Model.BaseURL)
	state := newAppState(cfg, estimator)
	defer state.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if state.Publisher != nil {
		if err := state.Publisher.Connect(ctx); err != nil {
			log.Warnf("MQTT publisher unavailable, results will not be published: %v", err)
		}
	}

	go state.bindInitial(ctx)

	r := mux.NewRouter()
	state.addRoutes(r)
	state.addMonitoringRoutes(r)

	srv := &http.Server{
		Handler:     r,
		Addr:        cfg.Addr,
		ReadTimeout: 60 * time.Second,
		// no write timeout: /stream.mjpeg stays open
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Server shutdown: %v", err)
		}
	}()

	log.Infof("Starting server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Info("Server stopped")
}
