package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Store is the persistence contract the timing logic runs against.
// *Repository implements it; tests substitute an in-memory fake.
type Store interface {
	GetCourse(ctx context.Context, referenceNumber int) (*Course, error)
	IsEnrolled(ctx context.Context, studentID string, courseID int) (bool, error)
	EnrolledStudents(ctx context.Context, courseID int) ([]Student, error)
	GetRecord(ctx context.Context, studentID string, courseID int, date string) (*Record, error)
	InsertFirstCheckin(ctx context.Context, studentID string, courseID int, date, firstTime string, status Status) error
	SetSecondTime(ctx context.Context, studentID string, courseID int, date, secondTime string) error
	UpsertManualStatus(ctx context.Context, studentID string, courseID int, date, markTime string, status Status) (bool, error)
	CustomEndTime(ctx context.Context, courseID int, date string) (string, error)
	SetCustomEndTime(ctx context.Context, courseID int, date, endTime string) error
	CancelLecture(ctx context.Context, courseID int, date string) error
	IsLectureCancelled(ctx context.Context, courseID int, date string) (bool, error)
	ReconcileCandidates(ctx context.Context, date string) ([]Record, error)
	SetRecordStatus(ctx context.Context, id string, status Status) error
	LectureDayCount(ctx context.Context, courseID int) (int, error)
	AbsenceDates(ctx context.Context, studentID string, courseID int) ([]string, error)
	ListRecords(ctx context.Context, courseID int, date string) ([]Record, error)
}

// Policy rejection reasons surfaced to callers. These are outcomes, not
// errors: the pipeline reports them per student and keeps running.
const (
	ReasonTooEarly       = "too early"
	ReasonClassEnded     = "class ended"
	ReasonAlreadyChecked = "already checked in"
	ReasonCancelled      = "class cancelled"
	ReasonNotEnrolled    = "not enrolled in this course"
)

// Outcome is the result of one check-in decision.
type Outcome struct {
	OK      bool   `json:"ok"`
	Status  Status `json:"status,omitempty"`
	Message string `json:"message"`
}

// reject builds a policy-rejection outcome and counts it.
func reject(reason string) Outcome {
	marksRejected.WithLabelValues(reason).Inc()
	return Outcome{Message: reason}
}

// commit builds a success outcome and counts the written status.
func commit(status Status, message string) Outcome {
	marksCommitted.WithLabelValues(string(status)).Inc()
	return Outcome{OK: true, Status: status, Message: message}
}

// Service applies the attendance timing rules against the store.
type Service struct {
	store Store
	rules Rules
	now   func() time.Time
}

// NewService creates a service with the given timing rules.
func NewService(store Store, rules Rules) *Service {
	return &Service{store: store, rules: rules, now: time.Now}
}

// WithClock overrides the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// lectureWindow resolves the effective start/end of a course on a date,
// honoring a custom end time when one exists. Values are minutes of day.
func (s *Service) lectureWindow(ctx context.Context, course *Course, date string) (start, end float64, err error) {
	start, err = parseClock(course.StartTime)
	if err != nil {
		return 0, 0, err
	}
	endStr := course.EndTime
	if custom, cerr := s.store.CustomEndTime(ctx, course.ReferenceNumber, date); cerr != nil {
		return 0, 0, cerr
	} else if custom != "" {
		endStr = custom
	}
	end, err = parseClock(endStr)
	return start, end, err
}

// AutoMark applies the full check-in state machine for a recognized student:
// first check-in with Present/Late classification, or second check-in near
// the end of the lecture. Policy rejections come back in the Outcome; the
// error is reserved for infrastructure failures.
func (s *Service) AutoMark(ctx context.Context, studentID string, courseID int) (Outcome, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return Outcome{}, err
	}
	if course == nil {
		return Outcome{}, fmt.Errorf("course %d not found", courseID)
	}

	enrolled, err := s.store.IsEnrolled(ctx, studentID, courseID)
	if err != nil {
		return Outcome{}, err
	}
	if !enrolled {
		return reject(ReasonNotEnrolled), nil
	}

	now := s.now()
	date := now.Format(dateLayout)
	clock := now.Format(clockLayout)
	nowMin := minutesOfDay(now)

	start, end, err := s.lectureWindow(ctx, course, date)
	if err != nil {
		return Outcome{}, err
	}

	rec, err := s.store.GetRecord(ctx, studentID, courseID, date)
	if err != nil {
		return Outcome{}, err
	}

	if rec != nil {
		if rec.IsCancelled {
			return reject(ReasonCancelled), nil
		}
		windowLo := end - float64(s.rules.SecondCheckinWindow)
		windowHi := end + float64(s.rules.SecondCheckinWindow)
		if rec.SecondTime == nil && nowMin >= windowLo && nowMin <= windowHi {
			if err := s.store.SetSecondTime(ctx, studentID, courseID, date, clock); err != nil {
				return Outcome{}, err
			}
			return commit(rec.Status, "second check-in recorded"), nil
		}
		// Outside the window, or the second check-in already happened.
		return reject(ReasonAlreadyChecked), nil
	}

	if nowMin < start-float64(s.rules.EarlyArrivalMargin) {
		return reject(ReasonTooEarly), nil
	}
	if nowMin > end-float64(s.rules.EarlyDepartureThreshold) {
		return reject(ReasonClassEnded), nil
	}

	status := StatusPresent
	if nowMin > start+float64(s.rules.LateThreshold) {
		status = StatusLate
	}
	if err := s.store.InsertFirstCheckin(ctx, studentID, courseID, date, clock, status); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with another write for the same day; the
			// uniqueness constraint is the guard, not a failure.
			return reject(ReasonAlreadyChecked), nil
		}
		return Outcome{}, err
	}
	return commit(status, "marked as "+string(status)), nil
}

// Mark is the manual override path: it writes the given status directly,
// bypassing the timing rules but still honoring the cancellation lock and
// the one-row-per-day invariant.
func (s *Service) Mark(ctx context.Context, studentID string, courseID int, date, markTime string, status Status) (Outcome, error) {
	if !status.Valid() {
		return Outcome{}, fmt.Errorf("invalid status %q", status)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Outcome{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	written, err := s.store.UpsertManualStatus(ctx, studentID, courseID, date, markTime, status)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return reject(ReasonAlreadyChecked), nil
		}
		return Outcome{}, err
	}
	if !written {
		return reject(ReasonCancelled), nil
	}
	return commit(status, "marked as "+string(status)), nil
}

// CancelLecture marks the date's lecture as cancelled for every enrolled
// student. Cancelling an already-cancelled date is a no-op success.
func (s *Service) CancelLecture(ctx context.Context, courseID int, date string) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course == nil {
		return fmt.Errorf("course %d not found", courseID)
	}
	return s.store.CancelLecture(ctx, courseID, date)
}

// EndLectureEarly stores a custom end time for (course, date). Timing
// decisions from this point on use it; records already written stand.
func (s *Service) EndLectureEarly(ctx context.Context, courseID int, date, endTime string) error {
	if _, err := parseClock(endTime); err != nil {
		return err
	}
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course == nil {
		return fmt.Errorf("course %d not found", courseID)
	}
	cancelled, err := s.store.IsLectureCancelled(ctx, courseID, date)
	if err != nil {
		return err
	}
	if cancelled {
		return errors.New(ReasonCancelled)
	}
	return s.store.SetCustomEndTime(ctx, courseID, date, endTime)
}

// Reconcile runs the end-of-day pass for a date: Present records with a
// first check-in and no second check-in become Unauthorized Departure.
// Late records with the same shape are intentionally left alone. Failures
// are logged per record and do not abort the batch.
func (s *Service) Reconcile(ctx context.Context, date string) (int, error) {
	candidates, err := s.store.ReconcileCandidates(ctx, date)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, rec := range candidates {
		if err := s.store.SetRecordStatus(ctx, rec.ID, StatusUnauthorizedDeparture); err != nil {
			log.Printf("reconcile: record %s (student %s course %d): %v", rec.ID, rec.StudentID, rec.CourseID, err)
			continue
		}
		updated++
	}
	return updated, nil
}

// Records lists a course's attendance, optionally for one date.
func (s *Service) Records(ctx context.Context, courseID int, date string) ([]Record, error) {
	return s.store.ListRecords(ctx, courseID, date)
}
