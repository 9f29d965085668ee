package main

import "fmt"

const (
	MsgNoPoses = "No poses above the confidence threshold. Try lowering the minimum pose confidence or choosing another image."

	MsgSinglePose = "One pose detected."

	MsgStale = "A newer request replaced this one before it finished."

	MsgNoFrame = "Nothing has been rendered yet."
)

func poseMessage(drawn int) string {
	switch {
	case drawn == 0:
		return MsgNoPoses
	case drawn == 1:
		return MsgSinglePose
	default:
		return fmt.Sprintf("%d poses detected.", drawn)
	}
}
