package main

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/Tutortoise/pose-demo-service/models"
)

func TestPoolAcquireRelease(t *testing.T) {
	pool := NewCanvasPool(1, 50*time.Millisecond)
	defer pool.Destroy()

	c, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("second Acquire() error = %v, want ErrAcquireTimeout", err)
	}

	pool.Release(c)
	m := pool.GetMetrics()
	if m.TotalAcquired != 1 || m.TotalReleased != 1 || m.AcquireFailures != 1 || m.InUse != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

// TestPoolClearsReleasedCanvas validates a canvas comes back blank after release.
func TestPoolClearsReleasedCanvas(t *testing.T) {
	pool := NewCanvasPool(1, time.Second)
	defer pool.Destroy()

	c, _ := pool.Acquire(context.Background())
	c.DrawPoint(models.Point{X: 100, Y: 100}, 5, color.White)
	pool.Release(c)

	c, _ = pool.Acquire(context.Background())
	if r, _, _, _ := c.Image().At(100, 100).RGBA(); r != 0 {
		t.Errorf("released canvas not cleared, red = %d", r)
	}
	pool.Release(c)
}

func TestPoolClosed(t *testing.T) {
	pool := NewCanvasPool(1, time.Second)
	pool.Destroy()
	pool.Destroy()

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() error = %v, want ErrPoolClosed", err)
	}
}

func TestPoolHonoursContext(t *testing.T) {
	pool := NewCanvasPool(1, time.Second)
	defer pool.Destroy()
	c, _ := pool.Acquire(context.Background())
	defer pool.Release(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
