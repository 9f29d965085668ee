package detections

import (
	"fmt"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
)

// OrtAllocator allocates input tensors inside ONNX Runtime.
type OrtAllocator struct{}

type ortTensor struct {
	t         *ort.Tensor[float32]
	destroyed atomic.Bool
}

func (OrtAllocator) Allocate(shape ort.Shape) (Tensor, error) {
	t, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	return &ortTensor{t: t}, nil
}

func (o *ortTensor) Shape() ort.Shape { return o.t.GetShape() }
func (o *ortTensor) Data() []float32  { return o.t.GetData() }
func (o *ortTensor) Value() ort.Value { return o.t }

func (o *ortTensor) Destroy() error {
	if !o.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	return o.t.Destroy()
}

// HostAllocator hands out pooled host buffers. Used when the runtime is not initialized.
type HostAllocator struct {
	mu    sync.Mutex
	pools map[int64]*sync.Pool
}

func NewHostAllocator() *HostAllocator {
	return &HostAllocator{pools: make(map[int64]*sync.Pool)}
}

type hostTensor struct {
	shape     ort.Shape
	data      []float32
	pool      *sync.Pool
	destroyed atomic.Bool
}

func (h *HostAllocator) Allocate(shape ort.Shape) (Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input shape %v: %w", shape, err)
	}
	size := shape.FlattenedSize()
	pool := h.pool(size)

	buf := pool.Get().([]float32)
	clear(buf)
	return &hostTensor{shape: shape.Clone(), data: buf, pool: pool}, nil
}

func (h *HostAllocator) pool(size int64) *sync.Pool {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pools[size]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} {
				return make([]float32, size)
			},
		}
		h.pools[size] = p
	}
	return p
}

func (t *hostTensor) Shape() ort.Shape { return t.shape }
func (t *hostTensor) Data() []float32  { return t.data }

func (t *hostTensor) Destroy() error {
	if !t.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	t.pool.Put(t.data)
	t.data = nil
	return nil
}

// NewAllocator picks the runtime allocator when the environment is up.
func NewAllocator() TensorAllocator {
	if ort.IsInitialized() {
		return OrtAllocator{}
	}
	return NewHostAllocator()
}
