package detections

const (
	InputName       = "images"
	OutputName      = "output0"
	DecodingMethod  = "multi-person"
	RowHeaderFloats = 6 // x1, y1, x2, y2, score, class
	RetryAttempts   = 3
	RetryDelayMs    = 100
)
