package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// LocatorConfig tunes the Haar-cascade detector. The defaults are lenient
// on purpose: the pipeline would rather evaluate a marginal region than
// miss a real face at an odd distance.
type LocatorConfig struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
	MaxSize      int
}

// DefaultLocatorConfig returns the production detector tuning.
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		ScaleFactor:  1.05,
		MinNeighbors: 3,
		MinSize:      20,
		MaxSize:      500,
	}
}

// Locator finds face regions in a frame.
type Locator struct {
	classifier gocv.CascadeClassifier
	cfg        LocatorConfig
}

// NewLocator loads the cascade file. A missing cascade is a fatal
// environment failure: nothing downstream can run without detection.
func NewLocator(cascadePath string, cfg LocatorConfig) (*Locator, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade %s", cascadePath)
	}
	return &Locator{classifier: classifier, cfg: cfg}, nil
}

// Detect returns face bounding boxes in the frame, in detector order.
// An empty slice means no face present, which is not an error.
func (l *Locator) Detect(frame gocv.Mat) []image.Rectangle {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	return l.classifier.DetectMultiScaleWithParams(
		gray,
		l.cfg.ScaleFactor,
		l.cfg.MinNeighbors,
		0,
		image.Pt(l.cfg.MinSize, l.cfg.MinSize),
		image.Pt(l.cfg.MaxSize, l.cfg.MaxSize),
	)
}

// Close releases the cascade.
func (l *Locator) Close() error {
	return l.classifier.Close()
}
