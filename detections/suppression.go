package detections

import (
	"sort"

	"github.com/Tutortoise/pose-demo-service/models"
)

// suppressPoses keeps poses in descending score order, dropping any pose whose every keypoint lies
// within radius of the same keypoint of a pose already kept, and stops at maxDetections.
func suppressPoses(poses []models.Pose, radius float64, maxDetections int) []models.Pose {
	if len(poses) == 0 {
		return nil
	}

	sorted := make([]models.Pose, len(poses))
	copy(sorted, poses)
	sortPosesByScore(sorted)

	squaredRadius := radius * radius
	kept := make([]models.Pose, 0, len(sorted))
	for _, candidate := range sorted {
		if maxDetections > 0 && len(kept) >= maxDetections {
			break
		}
		duplicate := false
		for _, existing := range kept {
			if withinRadius(candidate, existing, squaredRadius) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func withinRadius(a, b models.Pose, squaredRadius float64) bool {
	if len(a.Keypoints) == 0 || len(a.Keypoints) != len(b.Keypoints) {
		return false
	}
	for i := range a.Keypoints {
		if squaredDistance(a.Keypoints[i].Position, b.Keypoints[i].Position) > squaredRadius {
			return false
		}
	}
	return true
}

func squaredDistance(p1, p2 models.Point) float64 {
	dx := p1.X - p2.X
	dy := p1.Y - p2.Y
	return dx*dx + dy*dy
}

func sortPosesByScore(poses []models.Pose) {
	sort.SliceStable(poses, func(i, j int) bool {
		return poses[i].Score > poses[j].Score
	})
}
