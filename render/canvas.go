package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/Tutortoise/pose-demo-service/models"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const circleSegments = 24

// Canvas is an in-memory RGBA surface.
type Canvas struct {
	img    *image.RGBA
	raster *vector.Rasterizer
}

func NewCanvas(width, height int) *Canvas {
	c := &Canvas{
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		raster: vector.NewRasterizer(width, height),
	}
	c.Reset()
	return c
}

func (c *Canvas) Image() *image.RGBA { return c.img }

// Reset clears the canvas to opaque black.
func (c *Canvas) Reset() {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// Snapshot returns a copy that stays valid after the canvas is reused.
func (c *Canvas) Snapshot() *image.RGBA {
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

func (c *Canvas) DrawImage(img image.Image, size image.Point) error {
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("invalid target size %v", size)
	}
	resized := imaging.Resize(img, size.X, size.Y, imaging.Linear)
	draw.Draw(c.img, image.Rectangle{Max: size}, resized, image.Point{}, draw.Src)
	return nil
}

func (c *Canvas) DrawPoint(center models.Point, radius float64, col color.Color) error {
	if radius <= 0 {
		return fmt.Errorf("invalid radius %v", radius)
	}
	c.begin()
	for i := 0; i <= circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		x := float32(center.X + radius*math.Cos(theta))
		y := float32(center.Y + radius*math.Sin(theta))
		if i == 0 {
			c.raster.MoveTo(x, y)
		} else {
			c.raster.LineTo(x, y)
		}
	}
	c.fill(col)
	return nil
}

func (c *Canvas) DrawSegment(a, b models.Point, width float64, col color.Color) error {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil
	}
	// unit normal scaled to half the stroke width
	nx, ny := -dy/length*width/2, dx/length*width/2

	c.begin()
	c.raster.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	c.raster.LineTo(float32(b.X+nx), float32(b.Y+ny))
	c.raster.LineTo(float32(b.X-nx), float32(b.Y-ny))
	c.raster.LineTo(float32(a.X-nx), float32(a.Y-ny))
	c.fill(col)
	return nil
}

func (c *Canvas) DrawRect(r Rect, width float64, col color.Color) error {
	corners := []models.Point{
		r.Min,
		{X: r.Max.X, Y: r.Min.Y},
		r.Max,
		{X: r.Min.X, Y: r.Max.Y},
	}
	for i := range corners {
		if err := c.DrawSegment(corners[i], corners[(i+1)%len(corners)], width, col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Canvas) DrawLabel(at models.Point, text string, col color.Color) error {
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(at.X), int(at.Y)),
	}
	d.DrawString(text)
	return nil
}

func (c *Canvas) EncodeJPEG(w io.Writer, quality int) error {
	return imaging.Encode(w, c.img, imaging.JPEG, imaging.JPEGQuality(quality))
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	return imaging.Encode(w, c.img, imaging.PNG)
}

func (c *Canvas) begin() {
	b := c.img.Bounds()
	c.raster.Reset(b.Dx(), b.Dy())
	c.raster.DrawOp = draw.Over
}

func (c *Canvas) fill(col color.Color) {
	c.raster.ClosePath()
	c.raster.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
}
