// Package render draws detection results over the source image.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/Tutortoise/pose-demo-service/models"
)

// TargetSize is the fixed size the base image is drawn at.
var TargetSize = image.Point{X: 513, Y: 513}

type Rect struct {
	Min, Max models.Point
}

// Surface is a 2-D raster target.
type Surface interface {
	DrawImage(img image.Image, size image.Point) error
	DrawPoint(center models.Point, radius float64, c color.Color) error
	DrawSegment(a, b models.Point, width float64, c color.Color) error
	DrawRect(r Rect, width float64, c color.Color) error
}

// Labeler is implemented by surfaces that can print text.
type Labeler interface {
	DrawLabel(at models.Point, text string, c color.Color) error
}

type Renderer struct {
	TargetSize  image.Point
	Color       color.Color
	BoxColor    color.Color
	LineWidth   float64
	PointRadius float64
}

func NewRenderer() *Renderer {
	return &Renderer{
		TargetSize:  TargetSize,
		Color:       color.RGBA{G: 255, B: 255, A: 255},
		BoxColor:    color.RGBA{R: 255, A: 255},
		LineWidth:   2,
		PointRadius: 3,
	}
}

// Render draws img and every pose scoring at least minPose, in order, and returns how many poses were drawn.
// Keypoints and skeleton edges are filtered by minPart; the bounding box spans all keypoints of the pose.
func (r *Renderer) Render(s Surface, img image.Image, poses []models.Pose, minPart, minPose float64, flags models.DisplayFlags) (int, error) {
	if img != nil {
		if err := s.DrawImage(img, r.TargetSize); err != nil {
			return 0, fmt.Errorf("draw image: %w", err)
		}
	}
	scale := r.scaleFor(img)

	count := 0
	for _, pose := range poses {
		if pose.Score < minPose {
			continue
		}
		count++

		keypoints := scaleKeypoints(pose.Keypoints, scale)
		if flags.ShowKeypoints {
			if err := r.drawKeypoints(s, keypoints, minPart); err != nil {
				return count, err
			}
		}
		if flags.ShowSkeleton {
			if err := r.drawSkeleton(s, keypoints, minPart); err != nil {
				return count, err
			}
		}
		if flags.ShowBoundingBox {
			if err := r.drawBoundingBox(s, keypoints, pose.Score); err != nil {
				return count, err
			}
		}
	}
	return count, nil
}

func (r *Renderer) scaleFor(img image.Image) models.Point {
	if img == nil {
		return models.Point{X: 1, Y: 1}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return models.Point{X: 1, Y: 1}
	}
	return models.Point{
		X: float64(r.TargetSize.X) / float64(b.Dx()),
		Y: float64(r.TargetSize.Y) / float64(b.Dy()),
	}
}

func scaleKeypoints(keypoints []models.Keypoint, scale models.Point) []models.Keypoint {
	out := make([]models.Keypoint, len(keypoints))
	for i, kp := range keypoints {
		kp.Position = models.Point{X: kp.Position.X * scale.X, Y: kp.Position.Y * scale.Y}
		out[i] = kp
	}
	return out
}

func (r *Renderer) drawKeypoints(s Surface, keypoints []models.Keypoint, minConfidence float64) error {
	for _, kp := range keypoints {
		if kp.Score < minConfidence {
			continue
		}
		if err := s.DrawPoint(kp.Position, r.PointRadius, r.Color); err != nil {
			return fmt.Errorf("draw keypoint %s: %w", kp.Part, err)
		}
	}
	return nil
}

func (r *Renderer) drawSkeleton(s Surface, keypoints []models.Keypoint, minConfidence float64) error {
	for _, edge := range AdjacentKeypoints(keypoints, minConfidence) {
		if err := s.DrawSegment(edge[0].Position, edge[1].Position, r.LineWidth, r.Color); err != nil {
			return fmt.Errorf("draw skeleton: %w", err)
		}
	}
	return nil
}

func (r *Renderer) drawBoundingBox(s Surface, keypoints []models.Keypoint, score float64) error {
	box, ok := BoundingBox(keypoints)
	if !ok {
		return nil
	}
	if err := s.DrawRect(box, r.LineWidth, r.BoxColor); err != nil {
		return fmt.Errorf("draw bounding box: %w", err)
	}
	if l, ok := s.(Labeler); ok {
		return l.DrawLabel(models.Point{X: box.Min.X, Y: box.Min.Y - 4}, fmt.Sprintf("%.2f", score), r.BoxColor)
	}
	return nil
}

// AdjacentKeypoints returns the skeleton edges whose two ends both score at least minConfidence.
func AdjacentKeypoints(keypoints []models.Keypoint, minConfidence float64) [][2]models.Keypoint {
	byPart := make(map[string]models.Keypoint, len(keypoints))
	for _, kp := range keypoints {
		byPart[kp.Part] = kp
	}

	var edges [][2]models.Keypoint
	for _, pair := range models.ConnectedParts {
		a, okA := byPart[pair[0]]
		b, okB := byPart[pair[1]]
		if !okA || !okB || a.Score < minConfidence || b.Score < minConfidence {
			continue
		}
		edges = append(edges, [2]models.Keypoint{a, b})
	}
	return edges
}

// BoundingBox spans every keypoint regardless of its score.
func BoundingBox(keypoints []models.Keypoint) (Rect, bool) {
	if len(keypoints) == 0 {
		return Rect{}, false
	}
	box := Rect{
		Min: models.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: models.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, kp := range keypoints {
		box.Min.X = math.Min(box.Min.X, kp.Position.X)
		box.Min.Y = math.Min(box.Min.Y, kp.Position.Y)
		box.Max.X = math.Max(box.Max.X, kp.Position.X)
		box.Max.Y = math.Max(box.Max.Y, kp.Position.Y)
	}
	return box, true
}
