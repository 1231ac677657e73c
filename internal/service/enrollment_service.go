package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	"github.com/arkacitra/bimbel-portal-api/internal/repository"
	"github.com/arkacitra/bimbel-portal-api/pkg/config"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	CreateWithPlan(ctx context.Context, enrollment *models.Enrollment, payments []models.Payment, maxStudents int,
		detect func(candidate *models.Program, load []models.Program) ([]models.ProgramRef, error)) error
}

type eligibilityChecker interface {
	Check(ctx context.Context, studentID, programID string) (*models.Program, error)
}

type domainMetrics interface {
	RecordEnrollmentCreated()
}

// EnrollStudentRequest describes enrollment creation request.
type EnrollStudentRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	ProgramID    string `json:"program_id" validate:"required"`
	Installments int    `json:"installments" validate:"required,min=1,max=3"`
}

// EligibilityRequest identifies the student and program to check.
type EligibilityRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ProgramID string `json:"program_id" validate:"required"`
}

// EnrollmentResult is returned from a successful enrollment: the new
// enrollment plus its installment rows.
type EnrollmentResult struct {
	Enrollment *models.EnrollmentDetail `json:"enrollment"`
	Payments   []models.Payment         `json:"payments"`
}

// EnrollmentService orchestrates eligibility checking, plan quoting and the
// transactional enrollment write.
type EnrollmentService struct {
	repo        enrollmentRepository
	eligibility eligibilityChecker
	catalog     programCatalog
	payments    config.PaymentsConfig
	validator   *validator.Validate
	metrics     domainMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, eligibility eligibilityChecker, catalog programCatalog, payments config.PaymentsConfig, validate *validator.Validate, metrics domainMetrics, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if payments.CapacityRetries <= 0 {
		payments.CapacityRetries = 3
	}
	return &EnrollmentService{
		repo:        repo,
		eligibility: eligibility,
		catalog:     catalog,
		payments:    payments,
		validator:   validate,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// CheckEligibility runs the advisory eligibility check and folds the typed
// failure into a result the presentation layer can render directly.
func (s *EnrollmentService) CheckEligibility(ctx context.Context, req EligibilityRequest) (*models.EligibilityResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid eligibility payload")
	}
	checked := s.now().UTC()
	if _, err := s.eligibility.Check(ctx, req.StudentID, req.ProgramID); err != nil {
		appErr := appErrors.FromError(err)
		if appErr.Code == appErrors.ErrInternal.Code {
			return nil, err
		}
		return &models.EligibilityResult{
			Eligible: false,
			Code:     appErr.Code,
			Message:  appErr.Message,
			Details:  appErr.Details,
			Checked:  checked,
		}, nil
	}
	return &models.EligibilityResult{Eligible: true, Checked: checked}, nil
}

// QuotePlan quotes installment amounts and due dates for a program fee.
func (s *EnrollmentService) QuotePlan(ctx context.Context, programID string, installments int) ([]models.InstallmentQuote, error) {
	program, err := s.catalog.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	return QuotePlan(program.FeeCents, installments, s.now().UTC(), s.payments.InstallmentInterval)
}

// Enroll registers a student to a program together with its installment
// plan. The eligibility check is advisory; the duplicate, capacity and
// schedule-conflict checks are re-run inside the insert transaction, and
// serialization failures are retried a bounded number of times before
// surfacing a capacity-race error.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*EnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	program, err := s.eligibility.Check(ctx, req.StudentID, req.ProgramID)
	if err != nil {
		return nil, err
	}

	quotes, err := QuotePlan(program.FeeCents, req.Installments, s.now().UTC(), s.payments.InstallmentInterval)
	if err != nil {
		return nil, err
	}
	payments := make([]models.Payment, len(quotes))
	for i, q := range quotes {
		payments[i] = models.Payment{
			InstallmentNumber: q.InstallmentNumber,
			TotalInstallments: len(quotes),
			AmountCents:       q.AmountCents,
			DueDate:           q.DueDate,
		}
	}

	enrollment := &models.Enrollment{
		StudentID:    req.StudentID,
		ProgramID:    req.ProgramID,
		Status:       models.EnrollmentStatusPending,
		Installments: req.Installments,
		EnrolledAt:   s.now().UTC(),
	}

	for attempt := 1; ; attempt++ {
		err = s.repo.CreateWithPlan(ctx, enrollment, payments, program.MaxStudents, DetectConflicts)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.ErrAlreadyEnrolled
		}
		var capacityErr *repository.CapacityExceededError
		if errors.As(err, &capacityErr) {
			return nil, appErrors.WithDetails(appErrors.ErrProgramFull, "",
				map[string]any{"enrolled": capacityErr.Enrolled, "capacity": capacityErr.Capacity})
		}
		var conflictErr *repository.ScheduleConflictError
		if errors.As(err, &conflictErr) {
			return nil, appErrors.WithDetails(appErrors.ErrScheduleConflict, "",
				map[string]any{"conflicting_programs": conflictErr.Conflicts})
		}
		if repository.IsSerializationFailure(err) {
			if attempt < s.payments.CapacityRetries {
				s.logger.Warn("enrollment transaction retried",
					zap.String("program_id", req.ProgramID), zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrCapacityRace.Code, appErrors.ErrCapacityRace.Status, appErrors.ErrCapacityRace.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if s.metrics != nil {
		s.metrics.RecordEnrollmentCreated()
	}
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("program_id", req.ProgramID),
		zap.Int("installments", req.Installments))

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return &EnrollmentResult{Enrollment: detail, Payments: payments}, nil
}
