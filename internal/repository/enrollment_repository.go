package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
)

// ErrDuplicateEnrollment is returned when the transactional re-check finds an
// enrollment that blocks re-enrollment for the same student and program.
var ErrDuplicateEnrollment = errors.New("enrollment already exists for student and program")

// CapacityExceededError is returned when the locked capacity re-check fails.
type CapacityExceededError struct {
	Enrolled int
	Capacity int
}

// Error implements the error interface.
func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("program capacity exceeded: %d/%d", e.Enrolled, e.Capacity)
}

// ScheduleConflictError is returned when the transactional re-read of the
// student's course load collides with the candidate program.
type ScheduleConflictError struct {
	Conflicts []models.ProgramRef
}

// Error implements the error interface.
func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("program schedule conflicts with %d current enrollment(s)", len(e.Conflicts))
}

// IsSerializationFailure reports whether err is a Postgres serialization or
// deadlock failure worth retrying.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// EnrollmentRepository handles persistence of enrollments and the
// installment rows created with them.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, program_id, status, installments, enrolled_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with its program name.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.program_id, e.status, e.installments, e.enrolled_at,
        p.name AS program_name
        FROM enrollments e
        LEFT JOIN programs p ON p.id = e.program_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindBlocking returns the enrollment that prevents the student from
// enrolling again in the program, if one exists.
func (r *EnrollmentRepository) FindBlocking(ctx context.Context, studentID, programID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, program_id, status, installments, enrolled_at FROM enrollments
        WHERE student_id = $1 AND program_id = $2 AND status IN ($3, $4, $5)
        ORDER BY enrolled_at DESC LIMIT 1`
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, studentID, programID,
		models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountActiveLineage counts the enrollments occupying a slot in the program.
func (r *EnrollmentRepository) CountActiveLineage(ctx context.Context, programID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE program_id = $1 AND status IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, programID,
		models.EnrollmentStatusPending, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count program enrollments: %w", err)
	}
	return count, nil
}

// ListActiveByStudent returns the pending and active enrollments that make up
// a student's current course load.
func (r *EnrollmentRepository) ListActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, program_id, status, installments, enrolled_at FROM enrollments
        WHERE student_id = $1 AND status IN ($2, $3)`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID,
		models.EnrollmentStatusPending, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN programs p ON p.id = e.program_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("e.program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"program_name": "p.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.program_id, e.status, e.installments, e.enrolled_at,
        p.name AS program_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// UpdateStatus updates the lifecycle status for an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// CreateWithPlan inserts the enrollment and its installment rows inside a
// single transaction, re-running the duplicate, capacity and schedule checks
// under locks. The per-student advisory lock serializes enrollments by the
// same student (two requests into different programs never meet on a program
// row lock), and the program row lock serializes capacity counting: two
// requests both seeing one free slot would otherwise both insert. The detect
// callback receives the locked program and the re-read course load and
// returns the colliding programs.
func (r *EnrollmentRepository) CreateWithPlan(ctx context.Context, enrollment *models.Enrollment, payments []models.Payment, maxStudents int,
	detect func(candidate *models.Program, load []models.Program) ([]models.ProgramRef, error)) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const studentLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err = tx.ExecContext(ctx, studentLockQuery, enrollment.StudentID); err != nil {
		return fmt.Errorf("lock student enrollments: %w", err)
	}

	var program models.Program
	lockQuery := fmt.Sprintf(`SELECT %s FROM programs WHERE id = $1 FOR UPDATE`, programColumns)
	if err = tx.GetContext(ctx, &program, lockQuery, enrollment.ProgramID); err != nil {
		return fmt.Errorf("lock program row: %w", err)
	}

	const dupQuery = `SELECT 1 FROM enrollments WHERE student_id = $1 AND program_id = $2 AND status IN ($3, $4, $5) LIMIT 1`
	var exists int
	err = tx.GetContext(ctx, &exists, dupQuery, enrollment.StudentID, enrollment.ProgramID,
		models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted)
	if err == nil {
		err = ErrDuplicateEnrollment
		return err
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("re-check duplicate enrollment: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM enrollments WHERE program_id = $1 AND status IN ($2, $3)`
	var enrolled int
	if err = tx.GetContext(ctx, &enrolled, countQuery, enrollment.ProgramID,
		models.EnrollmentStatusPending, models.EnrollmentStatusActive); err != nil {
		return fmt.Errorf("re-check program capacity: %w", err)
	}
	if enrolled >= maxStudents {
		err = &CapacityExceededError{Enrolled: enrolled, Capacity: maxStudents}
		return err
	}

	if detect != nil {
		loadQuery := fmt.Sprintf(`SELECT %s FROM programs p
        JOIN enrollments e ON e.program_id = p.id
        WHERE e.student_id = $1 AND e.status IN ($2, $3)`, prefixedProgramColumns("p"))
		var load []models.Program
		if err = tx.SelectContext(ctx, &load, loadQuery, enrollment.StudentID,
			models.EnrollmentStatusPending, models.EnrollmentStatusActive); err != nil {
			return fmt.Errorf("re-read course load: %w", err)
		}
		var conflicts []models.ProgramRef
		if conflicts, err = detect(&program, load); err != nil {
			return fmt.Errorf("re-check schedule conflicts: %w", err)
		}
		if len(conflicts) > 0 {
			err = &ScheduleConflictError{Conflicts: conflicts}
			return err
		}
	}

	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const insertQuery = `INSERT INTO enrollments (id, student_id, program_id, status, installments, enrolled_at)
        VALUES (:id, :student_id, :program_id, :status, :installments, :enrolled_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	now := time.Now().UTC()
	const paymentQuery = `INSERT INTO payments (id, enrollment_id, installment_number, total_installments,
        amount_cents, due_date, status, created_at, updated_at)
        VALUES (:id, :enrollment_id, :installment_number, :total_installments,
        :amount_cents, :due_date, :status, :created_at, :updated_at)`
	for i := range payments {
		if payments[i].ID == "" {
			payments[i].ID = uuid.NewString()
		}
		payments[i].EnrollmentID = enrollment.ID
		payments[i].Status = models.PaymentStatusAwaiting
		payments[i].CreatedAt = now
		payments[i].UpdatedAt = now
		if _, err = tx.NamedExecContext(ctx, paymentQuery, payments[i]); err != nil {
			return fmt.Errorf("create installment %d: %w", payments[i].InstallmentNumber, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}
