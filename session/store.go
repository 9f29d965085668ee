package session

import (
	"image"
	"sync"
	"time"

	"github.com/Tutortoise/pose-demo-service/detections"
	"github.com/Tutortoise/pose-demo-service/models"

	log "github.com/sirupsen/logrus"
)

// Frame is a committed detection result together with the image it was computed on.
type Frame struct {
	FlowID     string
	Generation uint64
	ImageID    string
	Image      image.Image
	Model      models.ModelConfig
	Result     *detections.Result
	CreatedAt  time.Time
}

// ResultStore holds the latest frame. A replaced or cleared frame has its result disposed
// before the call returns.
type ResultStore struct {
	mu      sync.Mutex
	current *Frame
	hooks   []func(Frame)
}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// OnCommit registers fn to be called with every stored frame.
func (s *ResultStore) OnCommit(fn func(Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *ResultStore) Set(f *Frame) {
	s.Commit(f, nil)
}

// Commit stores f if current reports true (evaluated under the store lock). Otherwise f's result
// is disposed and false is returned.
func (s *ResultStore) Commit(f *Frame, current func() bool) bool {
	s.mu.Lock()
	if current != nil && !current() {
		s.mu.Unlock()
		disposeResult(f)
		return false
	}

	previous := s.current
	s.current = f
	disposeResult(previous)
	hooks := append([]func(Frame){}, s.hooks...)
	s.mu.Unlock()

	if f != nil {
		for _, fn := range hooks {
			fn(*f)
		}
	}
	return true
}

func (s *ResultStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	disposeResult(s.current)
	s.current = nil
}

// Get returns the stored frame, or a frame with an empty result when nothing has been stored.
func (s *ResultStore) Get() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Frame{Result: detections.Empty()}
	}
	return *s.current
}

func disposeResult(f *Frame) {
	if f == nil || f.Result == nil {
		return
	}
	if err := f.Result.Dispose(); err != nil {
		log.Warnf("dispose result of flow %s: %v", f.FlowID, err)
	}
}
