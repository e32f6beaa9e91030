package embedding

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const inputSize = 224

// ImageNet channel statistics used when the backbone was trained.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Encoder runs the vision-transformer face encoder. The exported ONNX graph
// ends at the projection head, so a forward pass yields the 512-dim
// embedding directly. Pure function of its input and the loaded weights.
type Encoder struct {
	net gocv.Net
}

// NewEncoder loads the exported model. Missing or unreadable weights are a
// fatal environment failure.
func NewEncoder(modelPath string) (*Encoder, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load face encoder model %s", modelPath)
	}
	return &Encoder{net: net}, nil
}

// EncodeRegion crops the face region from the frame, preprocesses it, and
// runs the forward pass. The returned vector is raw encoder output, not
// unit-norm; normalize before matching.
func (e *Encoder) EncodeRegion(frame gocv.Mat, faceRect image.Rectangle) (Vector, error) {
	region := frame.Region(faceRect.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows())))
	defer region.Close()
	if region.Empty() {
		return nil, fmt.Errorf("face region %v is outside the frame", faceRect)
	}

	blob, err := preprocess(region)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	total := out.Total()
	if total != Dim {
		return nil, fmt.Errorf("encoder produced %d values, want %d", total, Dim)
	}
	vec := make(Vector, Dim)
	for i := 0; i < Dim; i++ {
		vec[i] = out.GetFloatAt(0, i)
	}
	return vec, nil
}

// preprocess resizes to the model input, converts BGR to RGB floats and
// applies per-channel normalization, then packs the result as an NCHW blob.
func preprocess(face gocv.Mat) (gocv.Mat, error) {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(face, &resized, image.Pt(inputSize, inputSize), 0, 0, gocv.InterpolationLinear)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	floats := gocv.NewMat()
	defer floats.Close()
	rgb.ConvertTo(&floats, gocv.MatTypeCV32F)
	floats.DivideFloat(255)

	channels := gocv.Split(floats)
	if len(channels) != 3 {
		for _, ch := range channels {
			ch.Close()
		}
		return gocv.Mat{}, fmt.Errorf("expected 3 channels, got %d", len(channels))
	}
	for i := range channels {
		channels[i].SubtractFloat(channelMean[i])
		channels[i].DivideFloat(channelStd[i])
	}
	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Merge(channels, &normalized)
	for _, ch := range channels {
		ch.Close()
	}

	blob := gocv.BlobFromImage(normalized, 1.0, image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	return blob, nil
}

// Close releases the network.
func (e *Encoder) Close() error {
	return e.net.Close()
}
