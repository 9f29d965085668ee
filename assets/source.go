// Package assets resolves demo image ids to decoded images fetched from a remote bucket.
package assets

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/Tutortoise/pose-demo-service/models"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://storage.googleapis.com/tfjs-models/assets/posenet/"
	DefaultImageID = "tennis_in_crowd.jpg"
	DefaultTimeout = 15 * time.Second

	maxImageBytes = 20 << 20
)

// DefaultImages is the demo catalogue.
var DefaultImages = []string{
	"frisbee.jpg",
	"frisbee_2.jpg",
	"backpackman.jpg",
	"boy_doughnut.jpg",
	"soccer.png",
	"with_computer.jpg",
	"snowboard.jpg",
	"person_bench.jpg",
	"skiing.jpg",
	"fire_hydrant.jpg",
	"kyte.jpg",
	"looking_at_computer.jpg",
	"tennis.jpg",
	"tennis_standing.jpg",
	"truck.jpg",
	"on_bus.jpg",
	"tie_with_beer.jpg",
	"baseball.jpg",
	"multi_skiing.jpg",
	"riding_elephant.jpg",
	"skate_park_venice.jpg",
	"skate_park.jpg",
	"tennis_in_crowd.jpg",
	"two_on_bench.jpg",
}

type Source struct {
	BaseURL string
	Origin  string
	Timeout time.Duration
	Client  *http.Client

	files map[string]struct{}
	order []string
}

// NewSource returns a source serving ids from files. An empty list uses DefaultImages.
func NewSource(baseURL string, timeout time.Duration, files []string) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if len(files) == 0 {
		files = DefaultImages
	}

	s := &Source{
		BaseURL: baseURL,
		Timeout: timeout,
		Client:  &http.Client{},
		files:   make(map[string]struct{}, len(files)),
	}
	for _, f := range files {
		if _, dup := s.files[f]; dup {
			continue
		}
		s.files[f] = struct{}{}
		s.order = append(s.order, f)
	}
	return s
}

func (s *Source) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Source) Known(imageID string) bool {
	_, ok := s.files[imageID]
	return ok
}

// Load fetches and decodes imageID. Any failure, including the timeout expiring, is a LoadFailure.
func (s *Source) Load(ctx context.Context, imageID string) (image.Image, error) {
	if !s.Known(imageID) {
		return nil, models.NewProcessingError(models.ErrLoadFailure, fmt.Sprintf("unknown image %q", imageID), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	url := s.BaseURL + imageID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewProcessingError(models.ErrLoadFailure, "build request", err)
	}
	if s.Origin != "" {
		req.Header.Set("Origin", s.Origin)
	}

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("no response within %v: %w", s.Timeout, ctx.Err())
		}
		return nil, models.NewProcessingError(models.ErrLoadFailure, "fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.NewProcessingError(models.ErrLoadFailure, "fetch "+url, fmt.Errorf("http error: %s", resp.Status))
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxImageBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, models.NewProcessingError(models.ErrLoadFailure, "decode "+imageID, err)
	}

	log.WithFields(log.Fields{
		"image":   imageID,
		"width":   img.Bounds().Dx(),
		"height":  img.Bounds().Dy(),
		"elapsed": time.Since(start),
	}).Debug("image loaded")

	return img, nil
}
