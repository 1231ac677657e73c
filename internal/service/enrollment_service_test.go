package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	"github.com/arkacitra/bimbel-portal-api/internal/repository"
	"github.com/arkacitra/bimbel-portal-api/pkg/config"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	created     *models.Enrollment
	payments    []models.Payment
	createErrs  []error
	attempts    int
	maxStudents int
	listResult  []models.EnrollmentDetail
	listTotal   int
	detect      func(candidate *models.Program, load []models.Program) ([]models.ProgramRef, error)
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return m.listResult, m.listTotal, nil
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if m.created == nil || m.created.ID != id {
		return nil, sql.ErrNoRows
	}
	return &models.EnrollmentDetail{Enrollment: *m.created, ProgramName: "Intensif Matematika"}, nil
}

func (m *mockEnrollmentRepo) CreateWithPlan(ctx context.Context, enrollment *models.Enrollment, payments []models.Payment, maxStudents int,
	detect func(candidate *models.Program, load []models.Program) ([]models.ProgramRef, error)) error {
	m.attempts++
	m.detect = detect
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	m.created = enrollment
	m.payments = payments
	m.maxStudents = maxStudents
	return nil
}

type mockEligibility struct {
	program *models.Program
	err     error
}

func (m *mockEligibility) Check(ctx context.Context, studentID, programID string) (*models.Program, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.program, nil
}

type mockDomainMetrics struct {
	enrollments int
}

func (m *mockDomainMetrics) RecordEnrollmentCreated() { m.enrollments++ }

func enrollmentFixture(repo *mockEnrollmentRepo, eligibility *mockEligibility) (*EnrollmentService, *mockDomainMetrics) {
	catalog := &mockCatalog{programs: map[string]models.Program{}}
	if eligibility.program != nil {
		catalog.programs[eligibility.program.ID] = *eligibility.program
	}
	metrics := &mockDomainMetrics{}
	payments := config.PaymentsConfig{InstallmentInterval: 30 * 24 * time.Hour, CapacityRetries: 3}
	svc := NewEnrollmentService(repo, eligibility, catalog, payments, validator.New(), metrics, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return svc, metrics
}

func openProgram() *models.Program {
	return &models.Program{
		ID:          "prog-1",
		Name:        "Intensif Matematika",
		FeeCents:    1000000,
		MaxStudents: 20,
		Status:      models.ProgramStatusActive,
		StartDate:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEnrollCreatesPlan(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, metrics := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, models.EnrollmentStatusPending, result.Enrollment.Status)
	assert.Equal(t, 3, result.Enrollment.Installments)

	require.Len(t, result.Payments, 3)
	assert.Equal(t, int64(333333), result.Payments[0].AmountCents)
	assert.Equal(t, int64(333333), result.Payments[1].AmountCents)
	assert.Equal(t, int64(333334), result.Payments[2].AmountCents)
	assert.Equal(t, 20, repo.maxStudents)
	assert.Equal(t, 1, metrics.enrollments)
}

func TestEnrollValidatesInstallments(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	for _, n := range []int{0, 4} {
		_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
			StudentID: "stu-1", ProgramID: "prog-1", Installments: n,
		})
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	}
	assert.Zero(t, repo.attempts)
}

func TestEnrollIneligibleStops(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{err: appErrors.ErrProgramFull})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 2,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrProgramFull))
	assert.Zero(t, repo.attempts)
}

func TestEnrollDuplicateRace(t *testing.T) {
	repo := &mockEnrollmentRepo{createErrs: []error{repository.ErrDuplicateEnrollment}}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 1,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyEnrolled))
}

func TestEnrollCapacityRace(t *testing.T) {
	repo := &mockEnrollmentRepo{createErrs: []error{
		&repository.CapacityExceededError{Enrolled: 20, Capacity: 20},
	}}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 1,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrProgramFull))

	details, ok := appErrors.FromError(err).Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 20, details["enrolled"])
}

func TestEnrollConflictRace(t *testing.T) {
	repo := &mockEnrollmentRepo{createErrs: []error{
		&repository.ScheduleConflictError{Conflicts: []models.ProgramRef{{ID: "prog-2", Name: "Intensif Fisika"}}},
	}}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 1,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrScheduleConflict))

	details, ok := appErrors.FromError(err).Details.(map[string]any)
	require.True(t, ok)
	conflicts, ok := details["conflicting_programs"].([]models.ProgramRef)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "prog-2", conflicts[0].ID)
}

func TestEnrollPassesConflictDetector(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.detect)

	// The detector handed to the transaction must flag real overlaps.
	mon := "16:00"
	end := "18:00"
	candidate := &models.Program{ID: "prog-1", Weekdays: []string{"MON"}, StartTime: &mon, EndTime: &end}
	other := "17:00"
	otherEnd := "19:00"
	load := []models.Program{{ID: "prog-2", Weekdays: []string{"MON"}, StartTime: &other, EndTime: &otherEnd}}
	conflicts, err := repo.detect(candidate, load)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "prog-2", conflicts[0].ID)
}

func TestEnrollRetriesSerializationFailure(t *testing.T) {
	serialization := &pq.Error{Code: "40001"}
	repo := &mockEnrollmentRepo{createErrs: []error{serialization, serialization}}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.attempts)
	assert.NotNil(t, result.Enrollment)
}

func TestEnrollSerializationRetriesExhausted(t *testing.T) {
	serialization := &pq.Error{Code: "40P01"}
	repo := &mockEnrollmentRepo{createErrs: []error{serialization, serialization, serialization}}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{
		StudentID: "stu-1", ProgramID: "prog-1", Installments: 2,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCapacityRace))
	assert.Equal(t, 3, repo.attempts)
}

func TestCheckEligibilityFoldsFailure(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{
		err: appErrors.WithDetails(appErrors.ErrProgramFull, "program is full (20/20 slots taken)",
			map[string]any{"enrolled": 20, "capacity": 20}),
	})

	result, err := svc.CheckEligibility(context.Background(), EligibilityRequest{
		StudentID: "stu-1", ProgramID: "prog-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, "PROGRAM_FULL", result.Code)
	assert.NotNil(t, result.Details)
	assert.False(t, result.Checked.IsZero())
}

func TestCheckEligibilityPasses(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	result, err := svc.CheckEligibility(context.Background(), EligibilityRequest{
		StudentID: "stu-1", ProgramID: "prog-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Code)
}

func TestCheckEligibilityPropagatesInternal(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{
		err: appErrors.Wrap(sql.ErrConnDone, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "db down"),
	})

	_, err := svc.CheckEligibility(context.Background(), EligibilityRequest{
		StudentID: "stu-1", ProgramID: "prog-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}

func TestQuotePlanUsesProgramFee(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	quotes, err := svc.QuotePlan(context.Background(), "prog-1", 2)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, int64(500000), quotes[0].AmountCents)
	assert.Equal(t, int64(500000), quotes[1].AmountCents)
	assert.Equal(t, 30*24*time.Hour, quotes[1].DueDate.Sub(quotes[0].DueDate))
}

func TestListAddsPagination(t *testing.T) {
	repo := &mockEnrollmentRepo{
		listResult: []models.EnrollmentDetail{{Enrollment: models.Enrollment{ID: "enr-1"}}},
		listTotal:  42,
	}
	svc, _ := enrollmentFixture(repo, &mockEligibility{program: openProgram()})

	items, pagination, err := svc.List(context.Background(), models.EnrollmentFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 10, pagination.PageSize)
	assert.Equal(t, 42, pagination.TotalCount)
}
