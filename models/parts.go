package models

// PartNames lists the keypoints in model output order.
var PartNames = []string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

// NumKeypoints is the number of parts per pose.
var NumKeypoints = len(PartNames)

// ConnectedParts are the skeleton edges drawn between keypoints.
var ConnectedParts = [][2]string{
	{"leftHip", "leftShoulder"}, {"leftElbow", "leftShoulder"},
	{"leftElbow", "leftWrist"}, {"leftHip", "leftKnee"},
	{"leftKnee", "leftAnkle"}, {"rightHip", "rightShoulder"},
	{"rightElbow", "rightShoulder"}, {"rightElbow", "rightWrist"},
	{"rightHip", "rightKnee"}, {"rightKnee", "rightAnkle"},
	{"leftShoulder", "rightShoulder"}, {"leftHip", "rightHip"},
}

var partIDs = func() map[string]int {
	ids := make(map[string]int, len(PartNames))
	for i, name := range PartNames {
		ids[name] = i
	}
	return ids
}()

// PartID returns the output index of a part name, or -1.
func PartID(name string) int {
	if id, ok := partIDs[name]; ok {
		return id
	}
	return -1
}
