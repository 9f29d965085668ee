package detections

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// Preprocessor turns images into normalized CHW float32 planes.
type Preprocessor struct {
	numWorkers int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{numWorkers: workerCount()}
}

// Fill resizes img to size x size and writes R, G and B planes scaled to [0,1] into dst.
func (p *Preprocessor) Fill(img image.Image, size int, dst []float32) error {
	if size <= 0 {
		return fmt.Errorf("invalid input resolution %d", size)
	}
	if want := 3 * size * size; len(dst) != want {
		return fmt.Errorf("input buffer length %d, want %d", len(dst), want)
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)
	p.processParallel(resized, size, dst)
	return nil
}

func (p *Preprocessor) processParallel(img *image.NRGBA, size int, buffer []float32) {
	channelSize := size * size
	workers := p.numWorkers
	if workers > size {
		workers = size
	}
	rowsPerWorker := size / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = size
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+size*4]
				offset := y * size
				for x := 0; x < size; x++ {
					i := offset + x
					px := src[x*4 : x*4+4]
					// imaging returns non-premultiplied pixels; alpha is dropped.
					buffer[i] = float32(px[0]) / 255.0
					buffer[channelSize+i] = float32(px[1]) / 255.0
					buffer[channelSize*2+i] = float32(px[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func workerCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}
