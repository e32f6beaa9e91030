package attendance

import (
	"context"
	"strconv"
	"testing"
	"time"
)

// fakeStore is an in-memory Store for exercising the timing rules without
// Postgres.
type fakeStore struct {
	courses     map[int]*Course
	enrollments map[string]bool // studentID|courseID
	records     map[string]*Record
	customEnds  map[string]string // courseID|date
	nextID      int

	insertErr error
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		courses:     make(map[int]*Course),
		enrollments: make(map[string]bool),
		records:     make(map[string]*Record),
		customEnds:  make(map[string]string),
	}
}

func recKey(studentID string, courseID int, date string) string {
	return studentID + "|" + strconv.Itoa(courseID) + "|" + date
}

func (f *fakeStore) GetCourse(_ context.Context, ref int) (*Course, error) {
	return f.courses[ref], nil
}

func (f *fakeStore) IsEnrolled(_ context.Context, studentID string, courseID int) (bool, error) {
	return f.enrollments[studentID+"|"+strconv.Itoa(courseID)], nil
}

func (f *fakeStore) EnrolledStudents(_ context.Context, courseID int) ([]Student, error) {
	var out []Student
	for key, ok := range f.enrollments {
		if !ok {
			continue
		}
		sep := len(key) - len(strconv.Itoa(courseID)) - 1
		if sep > 0 && key[sep:] == "|"+strconv.Itoa(courseID) {
			out = append(out, Student{ID: key[:sep], Name: key[:sep]})
		}
	}
	return out, nil
}

func (f *fakeStore) GetRecord(_ context.Context, studentID string, courseID int, date string) (*Record, error) {
	rec, ok := f.records[recKey(studentID, courseID, date)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) InsertFirstCheckin(_ context.Context, studentID string, courseID int, date, firstTime string, status Status) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	key := recKey(studentID, courseID, date)
	if _, exists := f.records[key]; exists {
		return ErrDuplicate
	}
	f.nextID++
	ft := firstTime
	f.records[key] = &Record{
		ID:        strconv.Itoa(f.nextID),
		StudentID: studentID,
		CourseID:  courseID,
		Date:      date,
		FirstTime: &ft,
		Status:    status,
	}
	return nil
}

func (f *fakeStore) SetSecondTime(_ context.Context, studentID string, courseID int, date, secondTime string) error {
	rec, ok := f.records[recKey(studentID, courseID, date)]
	if !ok || rec.IsCancelled {
		return nil
	}
	st := secondTime
	rec.SecondTime = &st
	return nil
}

func (f *fakeStore) UpsertManualStatus(_ context.Context, studentID string, courseID int, date, markTime string, status Status) (bool, error) {
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	key := recKey(studentID, courseID, date)
	if rec, exists := f.records[key]; exists {
		if rec.IsCancelled {
			return false, nil
		}
		rec.Status = status
		return true, nil
	}
	f.nextID++
	mt := markTime
	f.records[key] = &Record{
		ID:        strconv.Itoa(f.nextID),
		StudentID: studentID,
		CourseID:  courseID,
		Date:      date,
		FirstTime: &mt,
		Status:    status,
	}
	return true, nil
}

func (f *fakeStore) CustomEndTime(_ context.Context, courseID int, date string) (string, error) {
	return f.customEnds[strconv.Itoa(courseID)+"|"+date], nil
}

func (f *fakeStore) SetCustomEndTime(_ context.Context, courseID int, date, endTime string) error {
	f.customEnds[strconv.Itoa(courseID)+"|"+date] = endTime
	return nil
}

func (f *fakeStore) CancelLecture(ctx context.Context, courseID int, date string) error {
	students, _ := f.EnrolledStudents(ctx, courseID)
	for _, s := range students {
		key := recKey(s.ID, courseID, date)
		if rec, exists := f.records[key]; exists {
			rec.Status = StatusNA
			rec.IsCancelled = true
			continue
		}
		f.nextID++
		f.records[key] = &Record{
			ID:          strconv.Itoa(f.nextID),
			StudentID:   s.ID,
			CourseID:    courseID,
			Date:        date,
			Status:      StatusNA,
			IsCancelled: true,
		}
	}
	return nil
}

func (f *fakeStore) IsLectureCancelled(_ context.Context, courseID int, date string) (bool, error) {
	for _, rec := range f.records {
		if rec.CourseID == courseID && rec.Date == date && rec.IsCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReconcileCandidates(_ context.Context, date string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.Date == date && rec.FirstTime != nil && rec.SecondTime == nil &&
			rec.Status == StatusPresent && !rec.IsCancelled {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeStore) SetRecordStatus(_ context.Context, id string, status Status) error {
	for _, rec := range f.records {
		if rec.ID == id {
			rec.Status = status
			return nil
		}
	}
	return nil
}

func (f *fakeStore) LectureDayCount(_ context.Context, courseID int) (int, error) {
	days := make(map[string]bool)
	for _, rec := range f.records {
		if rec.CourseID == courseID && !rec.IsCancelled {
			days[rec.Date] = true
		}
	}
	return len(days), nil
}

func (f *fakeStore) AbsenceDates(_ context.Context, studentID string, courseID int) ([]string, error) {
	var out []string
	for _, rec := range f.records {
		if rec.StudentID == studentID && rec.CourseID == courseID && !rec.IsCancelled &&
			(rec.Status == StatusAbsent || rec.Status == StatusUnauthorizedDeparture) {
			out = append(out, rec.Date)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRecords(_ context.Context, courseID int, date string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.CourseID != courseID {
			continue
		}
		if date != "" && rec.Date != date {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// ── helpers ──

const testCourse = 54321

func setupService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.courses[testCourse] = &Course{
		ReferenceNumber: testCourse,
		Code:            "ICS202",
		Name:            "Data Structures",
		StartTime:       "08:00",
		EndTime:         "09:00",
		Days:            "Sun,Tue,Thu",
	}
	store.enrollments["s1|"+strconv.Itoa(testCourse)] = true
	svc := NewService(store, DefaultRules())
	return svc, store
}

// clockAt pins the service wall clock to the given time on 2026-03-10.
func clockAt(svc *Service, hour, min, sec int) {
	svc.WithClock(func() time.Time {
		return time.Date(2026, 3, 10, hour, min, sec, 0, time.UTC)
	})
}

const testDate = "2026-03-10"

// ── AutoMark: first check-in ──

func TestAutoMark_TooEarly(t *testing.T) {
	svc, _ := setupService(t)
	clockAt(svc, 7, 54, 0)

	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonTooEarly {
		t.Errorf("expected %q rejection, got %+v", ReasonTooEarly, out)
	}
}

func TestAutoMark_EarlyArrivalBoundary(t *testing.T) {
	// 07:55 is exactly start minus the margin and must be accepted.
	svc, store := setupService(t)
	clockAt(svc, 7, 55, 0)

	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || out.Status != StatusPresent {
		t.Errorf("expected Present at the margin boundary, got %+v", out)
	}
	rec := store.records[recKey("s1", testCourse, testDate)]
	if rec == nil || rec.FirstTime == nil || *rec.FirstTime != "07:55:00" {
		t.Errorf("first_time not persisted correctly: %+v", rec)
	}
}

func TestAutoMark_PresentWithinGrace(t *testing.T) {
	svc, _ := setupService(t)
	clockAt(svc, 8, 15, 0)

	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || out.Status != StatusPresent {
		t.Errorf("08:15 is inside the grace period, got %+v", out)
	}
}

func TestAutoMark_LatePastGrace(t *testing.T) {
	svc, _ := setupService(t)
	clockAt(svc, 8, 16, 0)

	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || out.Status != StatusLate {
		t.Errorf("08:16 should mark Late, got %+v", out)
	}
}

func TestAutoMark_ClassEnded(t *testing.T) {
	// First check-ins stop 10 minutes before the scheduled end.
	svc, _ := setupService(t)
	clockAt(svc, 8, 51, 0)

	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonClassEnded {
		t.Errorf("expected %q rejection, got %+v", ReasonClassEnded, out)
	}
}

func TestAutoMark_NotEnrolled(t *testing.T) {
	svc, _ := setupService(t)
	clockAt(svc, 8, 5, 0)

	out, err := svc.AutoMark(context.Background(), "stranger", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonNotEnrolled {
		t.Errorf("expected %q rejection, got %+v", ReasonNotEnrolled, out)
	}
}

func TestAutoMark_UnknownCourse(t *testing.T) {
	svc, _ := setupService(t)
	clockAt(svc, 8, 5, 0)

	if _, err := svc.AutoMark(context.Background(), "s1", 999); err == nil {
		t.Error("expected error for unknown course")
	}
}

func TestAutoMark_DuplicateRace(t *testing.T) {
	svc, store := setupService(t)
	clockAt(svc, 8, 5, 0)
	// Record invisible to GetRecord but the insert collides, as when two
	// stations scan the same student in the same second.
	store.insertErr = ErrDuplicate

	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("duplicate insert must not surface as error: %v", err)
	}
	if out.OK || out.Message != ReasonAlreadyChecked {
		t.Errorf("expected %q, got %+v", ReasonAlreadyChecked, out)
	}
}

// ── AutoMark: second check-in ──

func TestAutoMark_SecondCheckinInWindow(t *testing.T) {
	svc, store := setupService(t)
	clockAt(svc, 8, 5, 0)
	if _, err := svc.AutoMark(context.Background(), "s1", testCourse); err != nil {
		t.Fatalf("first check-in: %v", err)
	}

	clockAt(svc, 8, 58, 0)
	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("second check-in at 08:58 should succeed, got %+v", out)
	}
	rec := store.records[recKey("s1", testCourse, testDate)]
	if rec.SecondTime == nil || *rec.SecondTime != "08:58:00" {
		t.Errorf("second_time not recorded: %+v", rec)
	}
	if rec.Status != StatusPresent {
		t.Errorf("second check-in must not change status, got %s", rec.Status)
	}
}

func TestAutoMark_SecondCheckinTooSoon(t *testing.T) {
	svc, store := setupService(t)
	clockAt(svc, 8, 5, 0)
	if _, err := svc.AutoMark(context.Background(), "s1", testCourse); err != nil {
		t.Fatalf("first check-in: %v", err)
	}

	clockAt(svc, 8, 40, 0)
	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonAlreadyChecked {
		t.Errorf("08:40 is outside the departure window, got %+v", out)
	}
	if rec := store.records[recKey("s1", testCourse, testDate)]; rec.SecondTime != nil {
		t.Error("second_time must stay empty outside the window")
	}
}

func TestAutoMark_SecondCheckinOnlyOnce(t *testing.T) {
	svc, _ := setupService(t)
	clockAt(svc, 8, 5, 0)
	if _, err := svc.AutoMark(context.Background(), "s1", testCourse); err != nil {
		t.Fatal(err)
	}
	clockAt(svc, 8, 56, 0)
	if _, err := svc.AutoMark(context.Background(), "s1", testCourse); err != nil {
		t.Fatal(err)
	}

	clockAt(svc, 8, 59, 0)
	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonAlreadyChecked {
		t.Errorf("third scan should be rejected, got %+v", out)
	}
}

func TestAutoMark_CancelledLecture(t *testing.T) {
	svc, _ := setupService(t)
	if err := svc.CancelLecture(context.Background(), testCourse, testDate); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	clockAt(svc, 8, 5, 0)
	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonCancelled {
		t.Errorf("expected %q rejection, got %+v", ReasonCancelled, out)
	}
}

// ── custom end time ──

func TestAutoMark_CustomEndShiftsWindows(t *testing.T) {
	svc, store := setupService(t)
	if err := svc.EndLectureEarly(context.Background(), testCourse, testDate, "08:30"); err != nil {
		t.Fatalf("end early: %v", err)
	}

	// With end at 08:30 the first-checkin cutoff moves to 08:20.
	clockAt(svc, 8, 25, 0)
	out, err := svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonClassEnded {
		t.Errorf("08:25 is past the shifted cutoff, got %+v", out)
	}

	// A record written before the shift still gets its second check-in in
	// the new window.
	clockAt(svc, 8, 10, 0)
	delete(store.customEnds, strconv.Itoa(testCourse)+"|"+testDate)
	if _, err := svc.AutoMark(context.Background(), "s1", testCourse); err != nil {
		t.Fatal(err)
	}
	if err := svc.EndLectureEarly(context.Background(), testCourse, testDate, "08:30"); err != nil {
		t.Fatal(err)
	}
	clockAt(svc, 8, 32, 0)
	out, err = svc.AutoMark(context.Background(), "s1", testCourse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Errorf("08:32 is inside the shifted departure window, got %+v", out)
	}
}

func TestEndLectureEarly_RejectsCancelled(t *testing.T) {
	svc, _ := setupService(t)
	if err := svc.CancelLecture(context.Background(), testCourse, testDate); err != nil {
		t.Fatal(err)
	}
	if err := svc.EndLectureEarly(context.Background(), testCourse, testDate, "08:30"); err == nil {
		t.Error("ending a cancelled lecture early must fail")
	}
}

func TestEndLectureEarly_BadClock(t *testing.T) {
	svc, _ := setupService(t)
	if err := svc.EndLectureEarly(context.Background(), testCourse, testDate, "25:99"); err == nil {
		t.Error("expected error for invalid end time")
	}
}

func TestEndLectureEarly_UnknownCourse(t *testing.T) {
	svc, store := setupService(t)
	if err := svc.EndLectureEarly(context.Background(), 99999, testDate, "08:30"); err == nil {
		t.Error("expected error for unknown course")
	}
	if len(store.customEnds) != 0 {
		t.Errorf("no custom end time should be written, got %v", store.customEnds)
	}
}

// ── manual marking ──

func TestMark_WritesStatus(t *testing.T) {
	svc, store := setupService(t)

	out, err := svc.Mark(context.Background(), "s1", testCourse, testDate, "08:02:00", StatusAbsent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || out.Status != StatusAbsent {
		t.Errorf("expected Absent written, got %+v", out)
	}
	if rec := store.records[recKey("s1", testCourse, testDate)]; rec == nil || rec.Status != StatusAbsent {
		t.Errorf("record not persisted: %+v", rec)
	}
}

func TestMark_InvalidStatus(t *testing.T) {
	svc, _ := setupService(t)
	if _, err := svc.Mark(context.Background(), "s1", testCourse, testDate, "08:02:00", "Snoozing"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestMark_InvalidDate(t *testing.T) {
	svc, _ := setupService(t)
	if _, err := svc.Mark(context.Background(), "s1", testCourse, "10-03-2026", "08:02:00", StatusPresent); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestMark_CancelledLectureLocked(t *testing.T) {
	svc, _ := setupService(t)
	if err := svc.CancelLecture(context.Background(), testCourse, testDate); err != nil {
		t.Fatal(err)
	}

	out, err := svc.Mark(context.Background(), "s1", testCourse, testDate, "08:02:00", StatusPresent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OK || out.Message != ReasonCancelled {
		t.Errorf("cancelled lecture must reject manual edits, got %+v", out)
	}
}

// ── cancellation ──

func TestCancelLecture_MarksAllEnrolled(t *testing.T) {
	svc, store := setupService(t)
	store.enrollments["s2|"+strconv.Itoa(testCourse)] = true

	if err := svc.CancelLecture(context.Background(), testCourse, testDate); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	for _, id := range []string{"s1", "s2"} {
		rec := store.records[recKey(id, testCourse, testDate)]
		if rec == nil || rec.Status != StatusNA || !rec.IsCancelled {
			t.Errorf("student %s: expected cancelled N/A row, got %+v", id, rec)
		}
	}
}

func TestCancelLecture_Idempotent(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	if err := svc.CancelLecture(ctx, testCourse, testDate); err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelLecture(ctx, testCourse, testDate); err != nil {
		t.Fatalf("second cancel must be a no-op success: %v", err)
	}
	if n := len(store.records); n != 1 {
		t.Errorf("expected exactly one row per enrolled student, got %d", n)
	}
}

func TestCancelLecture_OverwritesExistingCheckin(t *testing.T) {
	svc, store := setupService(t)
	clockAt(svc, 8, 5, 0)
	if _, err := svc.AutoMark(context.Background(), "s1", testCourse); err != nil {
		t.Fatal(err)
	}

	if err := svc.CancelLecture(context.Background(), testCourse, testDate); err != nil {
		t.Fatal(err)
	}
	rec := store.records[recKey("s1", testCourse, testDate)]
	if rec.Status != StatusNA || !rec.IsCancelled {
		t.Errorf("existing check-in must flip to cancelled N/A, got %+v", rec)
	}
}

// ── reconciliation ──

func TestReconcile_PresentWithoutDeparture(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	clockAt(svc, 8, 5, 0)
	if _, err := svc.AutoMark(ctx, "s1", testCourse); err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Reconcile(ctx, testDate)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 update, got %d", updated)
	}
	rec := store.records[recKey("s1", testCourse, testDate)]
	if rec.Status != StatusUnauthorizedDeparture {
		t.Errorf("expected Unauthorized Departure, got %s", rec.Status)
	}
}

func TestReconcile_LeavesLateAlone(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	clockAt(svc, 8, 20, 0)
	if _, err := svc.AutoMark(ctx, "s1", testCourse); err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Reconcile(ctx, testDate)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if updated != 0 {
		t.Errorf("Late records are not reconciliation candidates, got %d updates", updated)
	}
	if rec := store.records[recKey("s1", testCourse, testDate)]; rec.Status != StatusLate {
		t.Errorf("Late must survive reconciliation, got %s", rec.Status)
	}
}

func TestReconcile_SkipsCompletedCheckins(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	clockAt(svc, 8, 5, 0)
	if _, err := svc.AutoMark(ctx, "s1", testCourse); err != nil {
		t.Fatal(err)
	}
	clockAt(svc, 8, 57, 0)
	if _, err := svc.AutoMark(ctx, "s1", testCourse); err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Reconcile(ctx, testDate)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if updated != 0 {
		t.Errorf("completed check-ins must not be touched, got %d updates", updated)
	}
}
