package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Tutortoise/pose-demo-service/render"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize       = 2
	DefaultAcquireTimeout = 5 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available canvas")
)

// CanvasPool hands out render targets sized for the display. A canvas is cleared when it comes back.
type CanvasPool struct {
	canvases chan *render.Canvas
	size     int
	timeout  time.Duration
	mu       sync.Mutex
	closed   bool
	metrics  *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

func NewCanvasPool(size int, timeout time.Duration) *CanvasPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}

	pool := &CanvasPool{
		canvases: make(chan *render.Canvas, size),
		size:     size,
		timeout:  timeout,
		metrics:  &PoolMetrics{},
	}
	for i := 0; i < size; i++ {
		pool.canvases <- render.NewCanvas(render.TargetSize.X, render.TargetSize.Y)
	}
	return pool
}

func (p *CanvasPool) Acquire(ctx context.Context) (*render.Canvas, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case canvas, ok := <-p.canvases:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return canvas, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *CanvasPool) Release(canvas *render.Canvas) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	canvas.Reset()

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.canvases <- canvas
}

func (p *CanvasPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.canvases)
	for range p.canvases {
	}
}

func (p *CanvasPool) Size() int { return p.size }

// PoolStats is a point-in-time copy of PoolMetrics.
type PoolStats struct {
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
	WaitTime        time.Duration
}

func (p *CanvasPool) GetMetrics() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
	}
}

func (p *CanvasPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
