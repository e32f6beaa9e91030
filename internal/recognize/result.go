// Package recognize runs the per-frame pipeline: locate faces, gate them
// through liveness, encode, and match against the enrolled gallery.
package recognize

import "image"

// Rejection reasons carried on UnrecognizedFace.
const (
	ReasonLivenessFailed = "liveness check failed"
	ReasonUnknown        = "unknown"
	ReasonNotEnrolled    = "not enrolled"
)

// RecognizedFace is a face matched to an enrolled student.
type RecognizedFace struct {
	StudentID string          `json:"student_id"`
	Name      string          `json:"name"`
	Distance  float64         `json:"distance"`
	Location  image.Rectangle `json:"location"`
}

// UnrecognizedFace is a face the pipeline saw but could not accept.
type UnrecognizedFace struct {
	Reason   string          `json:"reason"`
	Location image.Rectangle `json:"location"`
}

// FaceResult is one face's outcome; exactly one of the two fields is set.
// Results keep detector order so callers can pair them with frame overlays.
type FaceResult struct {
	Recognized   *RecognizedFace   `json:"recognized,omitempty"`
	Unrecognized *UnrecognizedFace `json:"unrecognized,omitempty"`
}

// Location returns the face bounding box for either variant.
func (f FaceResult) Location() image.Rectangle {
	if f.Recognized != nil {
		return f.Recognized.Location
	}
	if f.Unrecognized != nil {
		return f.Unrecognized.Location
	}
	return image.Rectangle{}
}
