package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	marksCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faris_attendance_marks_total",
		Help: "Attendance records written, by status.",
	}, []string{"status"})
	marksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faris_attendance_rejections_total",
		Help: "Check-in attempts rejected by policy, by reason.",
	}, []string{"reason"})
)
