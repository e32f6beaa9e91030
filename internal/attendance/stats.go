package attendance

import (
	"context"
	"sort"
)

// StudentStats summarizes one student's standing in a course.
type StudentStats struct {
	StudentID     string   `json:"student_id"`
	StudentName   string   `json:"student_name,omitempty"`
	Percentage    float64  `json:"percentage"`
	AbsenceCount  int      `json:"absence_count"`
	TotalLectures int      `json:"total_lectures"`
	AbsenceDates  []string `json:"absence_dates"`
}

// CourseSummary buckets a course's students by attendance percentage.
type CourseSummary struct {
	GoodCount     int            `json:"good_count"`    // >= 90%
	WarningCount  int            `json:"warning_count"` // >= 85%
	RiskCount     int            `json:"risk_count"`    // >= 80%
	DeniedCount   int            `json:"denied_count"`  // < 80%
	TotalLectures int            `json:"total_lectures"`
	Students      []StudentStats `json:"students"`
}

// StudentAttendance computes a student's attendance percentage in a course.
// Absent and Unauthorized Departure rows count as absences; cancelled
// lectures do not count as lecture days.
func (s *Service) StudentAttendance(ctx context.Context, studentID string, courseID int) (StudentStats, error) {
	total, err := s.store.LectureDayCount(ctx, courseID)
	if err != nil {
		return StudentStats{}, err
	}
	if total == 0 {
		return StudentStats{StudentID: studentID, Percentage: 100.0, AbsenceDates: []string{}}, nil
	}
	dates, err := s.store.AbsenceDates(ctx, studentID, courseID)
	if err != nil {
		return StudentStats{}, err
	}
	return StudentStats{
		StudentID:     studentID,
		Percentage:    100.0 * float64(total-len(dates)) / float64(total),
		AbsenceCount:  len(dates),
		TotalLectures: total,
		AbsenceDates:  dates,
	}, nil
}

// CourseAttendance summarizes every enrolled student in a course.
func (s *Service) CourseAttendance(ctx context.Context, courseID int) (CourseSummary, error) {
	students, err := s.store.EnrolledStudents(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}
	total, err := s.store.LectureDayCount(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}

	summary := CourseSummary{TotalLectures: total}
	if total == 0 {
		summary.GoodCount = len(students)
		summary.Students = []StudentStats{}
		return summary, nil
	}

	for _, st := range students {
		dates, err := s.store.AbsenceDates(ctx, st.ID, courseID)
		if err != nil {
			return CourseSummary{}, err
		}
		sort.Sort(sort.Reverse(sort.StringSlice(dates)))
		pct := 100.0 * float64(total-len(dates)) / float64(total)
		switch {
		case pct >= 90:
			summary.GoodCount++
		case pct >= 85:
			summary.WarningCount++
		case pct >= 80:
			summary.RiskCount++
		default:
			summary.DeniedCount++
		}
		summary.Students = append(summary.Students, StudentStats{
			StudentID:     st.ID,
			StudentName:   st.Name,
			Percentage:    pct,
			AbsenceCount:  len(dates),
			TotalLectures: total,
			AbsenceDates:  dates,
		})
	}
	return summary, nil
}
