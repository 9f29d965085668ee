package main

import (
	"bytes"
	"image"
	"io"
	"sync"

	"github.com/Tutortoise/pose-demo-service/render"

	"github.com/disintegration/imaging"
	"github.com/hybridgroup/mjpeg"
	log "github.com/sirupsen/logrus"
)

const streamQuality = 85

// frameBoard keeps the last rendered canvas for /frame.png and pushes it to MJPEG viewers.
// Frames older than the last published generation are dropped.
type frameBoard struct {
	mu         sync.Mutex
	last       *image.RGBA
	generation uint64
	stream     *mjpeg.Stream
}

func newFrameBoard() *frameBoard {
	return &frameBoard{stream: mjpeg.NewStream()}
}

// Update publishes c as the frame of generation gen. It reports false when a newer frame is
// already published.
func (f *frameBoard) Update(c *render.Canvas, gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen < f.generation {
		log.WithFields(log.Fields{"generation": gen, "published": f.generation}).Debug("dropping stale frame")
		return false
	}
	f.last = c.Snapshot()
	f.generation = gen

	var buf bytes.Buffer
	if err := c.EncodeJPEG(&buf, streamQuality); err != nil {
		log.Warnf("encode stream frame: %v", err)
		return true
	}
	f.stream.UpdateJPEG(buf.Bytes())
	return true
}

// WritePNG writes the last frame. It reports false when nothing has been rendered yet.
func (f *frameBoard) WritePNG(w io.Writer) (bool, error) {
	f.mu.Lock()
	last := f.last
	f.mu.Unlock()

	if last == nil {
		return false, nil
	}
	return true, imaging.Encode(w, last, imaging.PNG)
}
