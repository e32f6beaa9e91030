package attendance

import (
	"fmt"
	"time"
)

// Status is the closed set of attendance states persisted per record.
type Status string

const (
	StatusPresent               Status = "Present"
	StatusAbsent                Status = "Absent"
	StatusLate                  Status = "Late"
	StatusNA                    Status = "N/A"
	StatusUnauthorizedDeparture Status = "Unauthorized Departure"
)

// Valid reports whether s is one of the persisted statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusNA, StatusUnauthorizedDeparture:
		return true
	}
	return false
}

// Record is one attendance row, unique per (student, course, date).
// FirstTime and SecondTime are wall-clock times formatted "15:04:05";
// Date is formatted "2006-01-02".
type Record struct {
	ID          string  `json:"id"`
	StudentID   string  `json:"student_id"`
	CourseID    int     `json:"course_id"`
	Date        string  `json:"date"`
	FirstTime   *string `json:"first_time,omitempty"`
	SecondTime  *string `json:"second_time,omitempty"`
	Status      Status  `json:"status"`
	IsCancelled bool    `json:"is_cancelled"`
}

// Course is the schedule a lecture runs against. StartTime and EndTime are
// "15:04" strings; StartDate/EndDate are "2006-01-02"; Days is a comma list
// like "Mon,Tue,Wed".
type Course struct {
	ReferenceNumber int    `json:"reference_number"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	Section         string `json:"section"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Capacity        int    `json:"capacity"`
	Classroom       string `json:"classroom"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Days            string `json:"days"`
}

// Student is the subset of user data the attendance flows need.
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Rules holds the timing thresholds for the check-in state machine.
// All values are minutes relative to the scheduled (or custom) course times.
type Rules struct {
	EarlyArrivalMargin      int
	LateThreshold           int
	EarlyDepartureThreshold int
	SecondCheckinWindow     int
}

// DefaultRules mirrors the production configuration defaults.
func DefaultRules() Rules {
	return Rules{
		EarlyArrivalMargin:      5,
		LateThreshold:           15,
		EarlyDepartureThreshold: 10,
		SecondCheckinWindow:     5,
	}
}

const (
	dateLayout   = "2006-01-02"
	clockLayout  = "15:04:05"
	courseLayout = "15:04"
)

// parseClock accepts "15:04" or "15:04:05" and returns minutes since
// midnight as a float so second precision survives window comparisons.
func parseClock(s string) (float64, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		t, err = time.Parse(courseLayout, s)
		if err != nil {
			return 0, fmt.Errorf("bad clock value %q: %w", s, err)
		}
	}
	return float64(t.Hour())*60 + float64(t.Minute()) + float64(t.Second())/60, nil
}

func minutesOfDay(t time.Time) float64 {
	return float64(t.Hour())*60 + float64(t.Minute()) + float64(t.Second())/60
}
