// Package vision defines the boundary to the face inference sidecar:
// detection, embedding encoding, and liveness scoring. The attendance core
// never touches pixels itself.
package vision

import (
	"context"
	"errors"
)

// Sentinel errors mapped from encoder failures.
var (
	ErrNoFace       = errors.New("no face detected in image")
	ErrMultiFace    = errors.New("multiple faces detected in image")
	ErrEncodingFail = errors.New("face encoding failed")
)

// Box is a face bounding box in pixel coordinates [x1, y1, x2, y2].
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// LivenessScore is the liveness model's verdict for one face.
type LivenessScore struct {
	OK          bool    `json:"ok"`
	Probability float64 `json:"probability"` // 0-1, higher means more likely live
	Error       string  `json:"error,omitempty"`
}

// Detector finds face bounding boxes in an image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Box, error)
}

// Encoder produces a 128-dim embedding for one detected face.
type Encoder interface {
	Encode(ctx context.Context, image []byte, box Box) ([]float64, error)
}

// Liveness scores whether a detected face belongs to a live person.
type Liveness interface {
	Score(ctx context.Context, image []byte, box Box) (LivenessScore, error)
}

// Provider bundles the three sidecar capabilities.
type Provider interface {
	Detector
	Encoder
	Liveness
}
