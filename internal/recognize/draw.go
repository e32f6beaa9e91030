package recognize

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	recognizedColor   = color.RGBA{G: 255}
	unrecognizedColor = color.RGBA{R: 255}
	labelTextColor    = color.RGBA{R: 255, G: 255, B: 255}
)

// Draw annotates the frame in place: green boxes with name and match
// confidence for recognized faces, red boxes with the rejection reason
// otherwise.
func Draw(frame *gocv.Mat, results []FaceResult, tolerance float64) {
	for _, res := range results {
		rect := res.Location()
		if rect.Empty() {
			continue
		}

		boxColor := unrecognizedColor
		label := ""
		if res.Recognized != nil {
			boxColor = recognizedColor
			confidence := 1 - res.Recognized.Distance/tolerance
			label = fmt.Sprintf("%s (%.2f)", res.Recognized.Name, confidence)
		} else {
			label = res.Unrecognized.Reason
		}

		gocv.Rectangle(frame, rect, boxColor, 2)

		labelBox := image.Rect(rect.Min.X, rect.Max.Y-35, rect.Max.X, rect.Max.Y)
		gocv.Rectangle(frame, labelBox, boxColor, -1)
		gocv.PutText(frame, label,
			image.Pt(rect.Min.X+6, rect.Max.Y-6),
			gocv.FontHersheySimplex, 0.5, labelTextColor, 1)
	}
}
