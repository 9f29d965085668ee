// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Tutortoise/pose-demo-service/assets"
	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string                 `yaml:"addr"`
	Debug     bool                   `yaml:"debug"`
	Model     ModelConfig            `yaml:"model"`
	Images    ImagesConfig           `yaml:"images"`
	Detection models.DetectionParams `yaml:"detection"`
	Display   models.DisplayFlags    `yaml:"display"`
	Canvas    CanvasConfig           `yaml:"canvas"`
	MQTT      MQTTConfig             `yaml:"mqtt"`
}

type ModelConfig struct {
	Dir        string             `yaml:"dir"`
	BaseURL    string             `yaml:"base_url"` // optional download location for missing weights
	ORTLibrary string             `yaml:"ort_library"`
	Initial    models.ModelConfig `yaml:"initial"`
}

type ImagesConfig struct {
	BaseURL string        `yaml:"base_url"`
	Origin  string        `yaml:"origin"` // sent with image requests; defaults to this service's address
	Timeout time.Duration `yaml:"timeout"`
	Initial string        `yaml:"initial"`
	Files   []string      `yaml:"files"`
}

type CanvasConfig struct {
	PoolSize       int           `yaml:"pool_size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables publishing
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

func Default() *Config {
	return &Config{
		Addr: "127.0.0.1:8080",
		Model: ModelConfig{
			Dir:     "models",
			Initial: models.DefaultModelConfig(),
		},
		Images: ImagesConfig{
			BaseURL: assets.DefaultBaseURL,
			Timeout: assets.DefaultTimeout,
			Initial: assets.DefaultImageID,
		},
		Detection: models.DefaultDetectionParams(),
		Display:   models.DefaultDisplayFlags(),
		Canvas: CanvasConfig{
			PoolSize:       2,
			AcquireTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Topic:    "pose-demo/results",
			ClientID: "pose-demo",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.Images.Origin == "" {
		cfg.Images.Origin = originFor(cfg.Addr)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addr = getEnv("POSE_ADDR", c.Addr)
	c.Model.Dir = getEnv("POSE_MODEL_DIR", c.Model.Dir)
	c.Model.BaseURL = getEnv("POSE_MODEL_BASE_URL", c.Model.BaseURL)
	c.Model.ORTLibrary = getEnv("POSE_ORT_LIB", c.Model.ORTLibrary)
	c.Images.BaseURL = getEnv("POSE_IMAGE_BASE_URL", c.Images.BaseURL)
	c.Images.Origin = getEnv("POSE_IMAGE_ORIGIN", c.Images.Origin)
	c.MQTT.Broker = getEnv("POSE_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getEnv("POSE_MQTT_TOPIC", c.MQTT.Topic)

	if v := os.Getenv("POSE_IMAGE_TIMEOUT"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("POSE_IMAGE_TIMEOUT: %w", err)
		}
		c.Images.Timeout = d
	}
	if v := os.Getenv("POSE_POOL_SIZE"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("POSE_POOL_SIZE: %w", err)
		}
		c.Canvas.PoolSize = n
	}
	if v := os.Getenv("DEBUG"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		c.Debug = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.Model.Dir == "" {
		errs = append(errs, errors.New("model.dir is required"))
	}
	if err := detections.ValidateConfig(c.Model.Initial); err != nil {
		errs = append(errs, fmt.Errorf("model.initial: %w", err))
	}
	if c.Images.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("images.timeout must be positive, got %v", c.Images.Timeout))
	}
	if c.Images.Initial == "" {
		errs = append(errs, errors.New("images.initial is required"))
	} else if !assets.NewSource(c.Images.BaseURL, c.Images.Timeout, c.Images.Files).Known(c.Images.Initial) {
		errs = append(errs, fmt.Errorf("images.initial %q is not in images.files", c.Images.Initial))
	}
	if c.Canvas.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("canvas.pool_size must be at least 1, got %d", c.Canvas.PoolSize))
	}
	if c.Canvas.AcquireTimeout <= 0 {
		errs = append(errs, fmt.Errorf("canvas.acquire_timeout must be positive, got %v", c.Canvas.AcquireTimeout))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when a broker is set"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// originFor is the origin of pages served on addr.
func originFor(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
