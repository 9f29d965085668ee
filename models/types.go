package models

import "time"

const (
	MobileNetV1 = "MobileNetV1"
	ResNet50    = "ResNet50"
)

type ModelConfig struct {
	Architecture    string  `json:"architecture" yaml:"architecture"`
	OutputStride    int     `json:"output_stride" yaml:"output_stride"`
	InputResolution int     `json:"input_resolution" yaml:"input_resolution"`
	Multiplier      float64 `json:"multiplier" yaml:"multiplier"`
	QuantBytes      int     `json:"quant_bytes" yaml:"quant_bytes"`
}

// DefaultModelConfig is the MobileNetV1 variant the demo starts with.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Architecture:    MobileNetV1,
		OutputStride:    16,
		InputResolution: 513,
		Multiplier:      0.75,
		QuantBytes:      2,
	}
}

// ResNetModelConfig is the heavier variant offered as the alternative.
func ResNetModelConfig() ModelConfig {
	return ModelConfig{
		Architecture:    ResNet50,
		OutputStride:    32,
		InputResolution: 257,
		Multiplier:      1.0,
		QuantBytes:      2,
	}
}

type DetectionParams struct {
	MinPartConfidence float64 `json:"min_part_confidence" yaml:"min_part_confidence"`
	MinPoseConfidence float64 `json:"min_pose_confidence" yaml:"min_pose_confidence"`
	NMSRadius         float64 `json:"nms_radius" yaml:"nms_radius"`
	MaxDetections     int     `json:"max_detections" yaml:"max_detections"`
}

func DefaultDetectionParams() DetectionParams {
	return DetectionParams{
		MinPartConfidence: 0.1,
		MinPoseConfidence: 0.2,
		NMSRadius:         20.0,
		MaxDetections:     15,
	}
}

type DisplayFlags struct {
	ShowKeypoints   bool `json:"show_keypoints" yaml:"show_keypoints"`
	ShowSkeleton    bool `json:"show_skeleton" yaml:"show_skeleton"`
	ShowBoundingBox bool `json:"show_bounding_box" yaml:"show_bounding_box"`
}

func DefaultDisplayFlags() DisplayFlags {
	return DisplayFlags{ShowKeypoints: true, ShowSkeleton: true}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Keypoint struct {
	Part     string  `json:"part"`
	Position Point   `json:"position"`
	Score    float64 `json:"score"`
}

// Pose is one detected person. Poses are never mutated once produced.
type Pose struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

type ProcessingTimings struct {
	FlowID     string
	ModelLoad  time.Duration
	ImageFetch time.Duration
	Preprocess time.Duration
	Inference  time.Duration
	Render     time.Duration
	Total      time.Duration
}
