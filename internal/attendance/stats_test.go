package attendance

import (
	"context"
	"strconv"
	"testing"
)

// seedRecord writes a row directly into the fake, bypassing the timing rules.
func seedRecord(store *fakeStore, studentID string, date string, status Status) {
	store.nextID++
	ft := "08:01:00"
	store.records[recKey(studentID, testCourse, date)] = &Record{
		ID:        strconv.Itoa(store.nextID),
		StudentID: studentID,
		CourseID:  testCourse,
		Date:      date,
		FirstTime: &ft,
		Status:    status,
	}
}

func TestStudentAttendance_NoLecturesYet(t *testing.T) {
	svc, _ := setupService(t)

	stats, err := svc.StudentAttendance(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Percentage != 100.0 {
		t.Errorf("no lectures means full attendance, got %.1f", stats.Percentage)
	}
	if stats.AbsenceDates == nil {
		t.Error("absence dates should be an empty slice, not nil")
	}
}

func TestStudentAttendance_CountsAbsencesAndDepartures(t *testing.T) {
	svc, store := setupService(t)
	seedRecord(store, "s1", "2026-03-01", StatusPresent)
	seedRecord(store, "s1", "2026-03-03", StatusAbsent)
	seedRecord(store, "s1", "2026-03-05", StatusUnauthorizedDeparture)
	seedRecord(store, "s1", "2026-03-08", StatusLate)

	stats, err := svc.StudentAttendance(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalLectures != 4 {
		t.Errorf("expected 4 lecture days, got %d", stats.TotalLectures)
	}
	if stats.AbsenceCount != 2 {
		t.Errorf("Absent and Unauthorized Departure both count, got %d", stats.AbsenceCount)
	}
	if stats.Percentage != 50.0 {
		t.Errorf("expected 50%%, got %.1f", stats.Percentage)
	}
}

func TestCourseAttendance_Buckets(t *testing.T) {
	svc, store := setupService(t)
	for _, id := range []string{"s2", "s3", "s4"} {
		store.enrollments[id+"|"+strconv.Itoa(testCourse)] = true
	}
	// 20 lecture days for the course.
	for day := 1; day <= 20; day++ {
		date := "2026-03-" + twoDigits(day)
		seedRecord(store, "s1", date, StatusPresent)
	}
	// s2: 2 absences -> 90%. s3: 3 -> 85%. s4: 5 -> 75%.
	for day := 1; day <= 2; day++ {
		seedRecord(store, "s2", "2026-03-"+twoDigits(day), StatusAbsent)
	}
	for day := 1; day <= 3; day++ {
		seedRecord(store, "s3", "2026-03-"+twoDigits(day), StatusAbsent)
	}
	for day := 1; day <= 5; day++ {
		seedRecord(store, "s4", "2026-03-"+twoDigits(day), StatusAbsent)
	}

	summary, err := svc.CourseAttendance(context.Background(), testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalLectures != 20 {
		t.Fatalf("expected 20 lecture days, got %d", summary.TotalLectures)
	}
	// s1 (100%) and s2 (90%) are good, s3 (85%) warning, s4 (75%) denied.
	if summary.GoodCount != 2 || summary.WarningCount != 1 || summary.RiskCount != 0 || summary.DeniedCount != 1 {
		t.Errorf("bucket counts wrong: %+v", summary)
	}
	if len(summary.Students) != 4 {
		t.Errorf("expected 4 students, got %d", len(summary.Students))
	}
}

func TestCourseAttendance_EmptyCourse(t *testing.T) {
	svc, _ := setupService(t)

	summary, err := svc.CourseAttendance(context.Background(), testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.GoodCount != 1 {
		t.Errorf("with no lectures every enrolled student is in good standing, got %+v", summary)
	}
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
