package liveness

import (
	"image"

	"gocv.io/x/gocv"
)

// TextureRealistic runs the frequency-domain spoof check on a face crop:
// the 2D magnitude spectrum of a live face carries more energy and more
// spread than a printed or screen-replayed one. Passes when both the mean
// and the standard deviation of the log spectrum clear the threshold.
func (e *Evaluator) TextureRealistic(frame gocv.Mat, faceRect image.Rectangle) bool {
	region := frame.Region(faceRect)
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)

	floats := gocv.NewMat()
	defer floats.Close()
	gray.ConvertTo(&floats, gocv.MatTypeCV32F)

	spectrum := gocv.NewMat()
	defer spectrum.Close()
	gocv.DFT(floats, &spectrum, gocv.DftComplexOutput)

	planes := gocv.Split(spectrum)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.Magnitude(planes[0], planes[1], &magnitude)
	magnitude.AddFloat(1)

	logMag := gocv.NewMat()
	defer logMag.Close()
	gocv.Log(magnitude, &logMag)
	logMag.MultiplyFloat(20)

	meanMat := gocv.NewMat()
	defer meanMat.Close()
	stdMat := gocv.NewMat()
	defer stdMat.Close()
	gocv.MeanStdDev(logMag, &meanMat, &stdMat)

	meanMag := meanMat.GetDoubleAt(0, 0)
	stdMag := stdMat.GetDoubleAt(0, 0)
	return meanMag > e.cfg.TextureThreshold && stdMag > e.cfg.TextureThreshold
}

// Check evaluates the acceptance rule for one face in one frame: blink or
// motion evidence accumulated so far, gated by the texture check. ear is an
// optional eye-aspect-ratio sample for this frame; pass nil when no
// landmark stream is available.
func (e *Evaluator) Check(frame gocv.Mat, faceRect image.Rectangle, ear *float64) bool {
	if ear != nil {
		e.ObserveEyeRatio(*ear)
	}
	e.ObserveFace(faceRect)

	if !e.motionOrBlinkSatisfied() {
		return false
	}
	return e.TextureRealistic(frame, faceRect)
}
