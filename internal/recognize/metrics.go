package recognize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faris_frames_processed_total",
		Help: "Frames run through the recognition pipeline.",
	})
	facesRecognized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faris_faces_recognized_total",
		Help: "Faces matched to an enrolled student.",
	})
	facesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faris_faces_rejected_total",
		Help: "Faces the pipeline could not accept, by reason.",
	}, []string{"reason"})
)
