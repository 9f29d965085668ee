package detections

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/Tutortoise/pose-demo-service/models"

	ort "github.com/yalue/onnxruntime_go"
)

type countingAllocator struct {
	inner     *HostAllocator
	allocated atomic.Int32
	destroyed atomic.Int32
	last      Tensor
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{inner: NewHostAllocator()}
}

type countedTensor struct {
	Tensor
	owner *countingAllocator
}

func (c *countedTensor) Destroy() error {
	c.owner.destroyed.Add(1)
	return c.Tensor.Destroy()
}

func (a *countingAllocator) Allocate(shape ort.Shape) (Tensor, error) {
	t, err := a.inner.Allocate(shape)
	if err != nil {
		return nil, err
	}
	a.allocated.Add(1)
	ct := &countedTensor{Tensor: t, owner: a}
	a.last = ct
	return ct, nil
}

type fakeModel struct {
	cfg    models.ModelConfig
	result *Result
	err    error

	mu       sync.Mutex
	opts     EstimateOptions
	shape    ort.Shape
	firstRGB [3]float32
}

func (f *fakeModel) Config() models.ModelConfig { return f.cfg }

func (f *fakeModel) EstimatePoses(ctx context.Context, input Tensor, opts EstimateOptions) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opts = opts
	f.shape = input.Shape().Clone()
	plane := len(input.Data()) / 3
	f.firstRGB = [3]float32{input.Data()[0], input.Data()[plane], input.Data()[2*plane]}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeModel) Dispose() {}

type countingDestroyer struct {
	calls atomic.Int32
}

func (c *countingDestroyer) Destroy() error {
	c.calls.Add(1)
	return nil
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
