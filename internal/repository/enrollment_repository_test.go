package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestEnrollmentRepositoryFindBlocking(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "program_id", "status", "installments", "enrolled_at"}).
		AddRow("enr-1", "stu-1", "prog-1", models.EnrollmentStatusActive, 2, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, program_id, status, installments, enrolled_at FROM enrollments")).
		WithArgs("stu-1", "prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted).
		WillReturnRows(rows)

	enrollment, err := repo.FindBlocking(context.Background(), "stu-1", "prog-1")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountActiveLineage(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE program_id = $1")).
		WithArgs("prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountActiveLineage(context.Background(), "prog-1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListActiveByStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "program_id", "status", "installments", "enrolled_at"}).
		AddRow("enr-1", "stu-1", "prog-1", models.EnrollmentStatusPending, 3, time.Now()).
		AddRow("enr-2", "stu-1", "prog-2", models.EnrollmentStatusActive, 1, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, program_id, status, installments, enrolled_at FROM enrollments")).
		WithArgs("stu-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(rows)

	enrollments, err := repo.ListActiveByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectEnrollmentTxPreamble(mock sqlmock.Sqlmock, studentID, programID string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs(studentID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := programRows().AddRow(programID, "Intensif Matematika", int64(1500000), 20,
		models.ProgramStatusActive, time.Now(), nil, "{MON,WED}", "16:00", "18:00",
		"Ruang 2A", time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM programs WHERE id = \\$1 FOR UPDATE").
		WithArgs(programID).
		WillReturnRows(rows)
}

func TestEnrollmentRepositoryCreateWithPlan(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	expectEnrollmentTxPreamble(mock, "stu-1", "prog-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE program_id = $1")).
		WithArgs("prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("SELECT (.+) FROM programs p").
		WithArgs("stu-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(programRows())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "prog-1", string(models.EnrollmentStatusPending), 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 1, 2, int64(500000), sqlmock.AnyArg(),
			string(models.PaymentStatusAwaiting), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 2, 2, int64(500000), sqlmock.AnyArg(),
			string(models.PaymentStatusAwaiting), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentID: "stu-1", ProgramID: "prog-1", Installments: 2}
	payments := []models.Payment{
		{InstallmentNumber: 1, TotalInstallments: 2, AmountCents: 500000, DueDate: time.Now()},
		{InstallmentNumber: 2, TotalInstallments: 2, AmountCents: 500000, DueDate: time.Now().Add(30 * 24 * time.Hour)},
	}

	var detectedCandidate string
	var detectedLoad int
	detect := func(candidate *models.Program, load []models.Program) ([]models.ProgramRef, error) {
		detectedCandidate = candidate.ID
		detectedLoad = len(load)
		return nil, nil
	}

	err := repo.CreateWithPlan(context.Background(), enrollment, payments, 20, detect)
	require.NoError(t, err)
	assert.Equal(t, "prog-1", detectedCandidate)
	assert.Zero(t, detectedLoad)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, enrollment.ID, payments[0].EnrollmentID)
	assert.Equal(t, models.PaymentStatusAwaiting, payments[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithPlanScheduleConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	expectEnrollmentTxPreamble(mock, "stu-1", "prog-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE program_id = $1")).
		WithArgs("prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	load := programRows().AddRow("prog-2", "Intensif Fisika", int64(1200000), 15,
		models.ProgramStatusActive, time.Now(), nil, "{MON}", "17:00", "19:00",
		"Ruang 1B", time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM programs p").
		WithArgs("stu-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(load)
	mock.ExpectRollback()

	detect := func(candidate *models.Program, load []models.Program) ([]models.ProgramRef, error) {
		require.Len(t, load, 1)
		return []models.ProgramRef{load[0].Ref()}, nil
	}

	enrollment := &models.Enrollment{StudentID: "stu-1", ProgramID: "prog-1", Installments: 1}
	err := repo.CreateWithPlan(context.Background(), enrollment, nil, 20, detect)

	var conflictErr *ScheduleConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, "prog-2", conflictErr.Conflicts[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithPlanDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	expectEnrollmentTxPreamble(mock, "stu-1", "prog-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{StudentID: "stu-1", ProgramID: "prog-1", Installments: 1}
	err := repo.CreateWithPlan(context.Background(), enrollment, nil, 20, nil)
	require.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithPlanCapacityExceeded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	expectEnrollmentTxPreamble(mock, "stu-1", "prog-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE program_id = $1")).
		WithArgs("prog-1", models.EnrollmentStatusPending, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(20))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{StudentID: "stu-1", ProgramID: "prog-1", Installments: 1}
	err := repo.CreateWithPlan(context.Background(), enrollment, nil, 20, nil)

	var capacityErr *CapacityExceededError
	require.ErrorAs(t, err, &capacityErr)
	assert.Equal(t, 20, capacityErr.Enrolled)
	assert.Equal(t, 20, capacityErr.Capacity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, IsSerializationFailure(&pq.Error{Code: "40001"}))
	assert.True(t, IsSerializationFailure(&pq.Error{Code: "40P01"}))
	assert.False(t, IsSerializationFailure(&pq.Error{Code: "23505"}))
	assert.False(t, IsSerializationFailure(errors.New("plain error")))
	assert.False(t, IsSerializationFailure(nil))
}
