package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert hits the
// (student_id, course_id, date) uniqueness constraint.
var ErrDuplicate = errors.New("attendance record already exists")

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertStation ensures a capture station record exists.
func (r *Repository) UpsertStation(ctx context.Context, stationID string) error {
	if stationID == "" {
		return errors.New("station id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stations (station_id)
		VALUES ($1)
		ON CONFLICT (station_id) DO NOTHING
	`, stationID)
	return err
}

// GetCourse returns a course by reference number, or nil when absent.
func (r *Repository) GetCourse(ctx context.Context, referenceNumber int) (*Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT reference_number, code, name, section, start_time, end_time,
		       capacity, classroom, start_date, end_date, days
		FROM courses WHERE reference_number = $1
	`, referenceNumber)
	var c Course
	if err := row.Scan(&c.ReferenceNumber, &c.Code, &c.Name, &c.Section, &c.StartTime, &c.EndTime,
		&c.Capacity, &c.Classroom, &c.StartDate, &c.EndDate, &c.Days); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// IsEnrolled reports whether the student is enrolled in the course.
func (r *Repository) IsEnrolled(ctx context.Context, studentID string, courseID int) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID).Scan(&n)
	return n > 0, err
}

// EnrolledStudents lists students enrolled in a course.
func (r *Repository) EnrolledStudents(ctx context.Context, courseID int) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name
		FROM enrollments e
		JOIN students u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY u.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StudentName returns a display name for a student id, falling back to the id.
func (r *Repository) StudentName(ctx context.Context, studentID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM students WHERE id = $1`, studentID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return studentID, nil
	}
	return name, err
}

// GetRecord returns the record for (student, course, date), or nil when none exists.
func (r *Repository) GetRecord(ctx context.Context, studentID string, courseID int, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, date, first_time, second_time, status, is_cancelled
		FROM attendance
		WHERE student_id = $1 AND course_id = $2 AND date = $3
	`, studentID, courseID, date)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date,
		&rec.FirstTime, &rec.SecondTime, &rec.Status, &rec.IsCancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InsertFirstCheckin creates the day's record. A concurrent duplicate insert
// surfaces as ErrDuplicate so callers can treat it as "already recorded".
func (r *Repository) InsertFirstCheckin(ctx context.Context, studentID string, courseID int, date, firstTime string, status Status) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, student_id, course_id, date, first_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), studentID, courseID, date, firstTime, status)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// SetSecondTime records the second check-in without touching status.
func (r *Repository) SetSecondTime(ctx context.Context, studentID string, courseID int, date, secondTime string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET second_time = $4
		WHERE student_id = $1 AND course_id = $2 AND date = $3 AND NOT is_cancelled
	`, studentID, courseID, date, secondTime)
	return err
}

// UpsertManualStatus writes an instructor-entered status, creating the row if
// needed. Cancelled rows are left untouched; the returned bool reports
// whether a row was actually written.
func (r *Repository) UpsertManualStatus(ctx context.Context, studentID string, courseID int, date, markTime string, status Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, student_id, course_id, date, first_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, course_id, date) DO UPDATE
		SET status = EXCLUDED.status,
		    first_time = COALESCE(attendance.first_time, EXCLUDED.first_time)
		WHERE NOT attendance.is_cancelled
	`, uuid.NewString(), studentID, courseID, date, markTime, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CustomEndTime returns the per-date end-time override ("15:04:05"), or ""
// when the scheduled end time applies.
func (r *Repository) CustomEndTime(ctx context.Context, courseID int, date string) (string, error) {
	var endTime string
	err := r.db.QueryRowContext(ctx, `
		SELECT custom_end_time FROM lecture_custom_times
		WHERE course_id = $1 AND date = $2
	`, courseID, date).Scan(&endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return endTime, err
}

// SetCustomEndTime stores or replaces the end-time override for (course, date).
func (r *Repository) SetCustomEndTime(ctx context.Context, courseID int, date, endTime string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lecture_custom_times (course_id, date, custom_end_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (course_id, date) DO UPDATE SET custom_end_time = EXCLUDED.custom_end_time
	`, courseID, date, endTime)
	return err
}

// CancelLecture marks every enrolled student's record for the date as N/A and
// cancelled, creating rows for students with none. Safe to repeat: rerunning
// leaves exactly one row per student.
func (r *Repository) CancelLecture(ctx context.Context, courseID int, date string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, student_id, course_id, date, status, is_cancelled)
		SELECT gen_random_uuid()::text, e.student_id, e.course_id, $2, $3, TRUE
		FROM enrollments e
		WHERE e.course_id = $1
		ON CONFLICT (student_id, course_id, date) DO UPDATE
		SET status = $3, is_cancelled = TRUE
	`, courseID, date, StatusNA)
	return err
}

// IsLectureCancelled reports whether any cancelled row exists for (course, date).
func (r *Repository) IsLectureCancelled(ctx context.Context, courseID int, date string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance
		WHERE course_id = $1 AND date = $2 AND is_cancelled
	`, courseID, date).Scan(&n)
	return n > 0, err
}

// ReconcileCandidates lists records for the date with a first check-in, no
// second check-in, status Present and not cancelled.
func (r *Repository) ReconcileCandidates(ctx context.Context, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, course_id, date, first_time, second_time, status, is_cancelled
		FROM attendance
		WHERE date = $1 AND first_time IS NOT NULL AND second_time IS NULL
		  AND status = $2 AND NOT is_cancelled
	`, date, StatusPresent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date,
			&rec.FirstTime, &rec.SecondTime, &rec.Status, &rec.IsCancelled); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetRecordStatus rewrites a single record's status by id.
func (r *Repository) SetRecordStatus(ctx context.Context, id string, status Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET status = $2 WHERE id = $1 AND NOT is_cancelled
	`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("record %s not updated", id)
	}
	return err
}

// ListRecords returns a course's records, optionally restricted to one date.
func (r *Repository) ListRecords(ctx context.Context, courseID int, date string) ([]Record, error) {
	query := `
		SELECT id, student_id, course_id, date, first_time, second_time, status, is_cancelled
		FROM attendance WHERE course_id = $1`
	args := []any{courseID}
	if date != "" {
		query += ` AND date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY date DESC, student_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date,
			&rec.FirstTime, &rec.SecondTime, &rec.Status, &rec.IsCancelled); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LectureDayCount counts distinct non-cancelled attendance dates for a course.
func (r *Repository) LectureDayCount(ctx context.Context, courseID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT date) FROM attendance
		WHERE course_id = $1 AND NOT is_cancelled
	`, courseID).Scan(&n)
	return n, err
}

// AbsenceDates lists dates a student was Absent or left without authorization,
// most recent first, excluding cancelled lectures.
func (r *Repository) AbsenceDates(ctx context.Context, studentID string, courseID int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date FROM attendance
		WHERE student_id = $1 AND course_id = $2 AND NOT is_cancelled
		  AND status IN ($3, $4)
		ORDER BY date DESC
	`, studentID, courseID, StatusAbsent, StatusUnauthorizedDeparture)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
