package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

type programCatalog interface {
	GetProgram(ctx context.Context, id string) (*models.Program, error)
	GetPrograms(ctx context.Context, ids []string) ([]models.Program, error)
}

type enrollmentLedger interface {
	FindBlocking(ctx context.Context, studentID, programID string) (*models.Enrollment, error)
	CountActiveLineage(ctx context.Context, programID string) (int, error)
	ListActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

// EligibilityService runs the ordered enrollment checks. It never writes;
// the duplicate and capacity checks are advisory under concurrent load and
// are re-run inside the enrollment transaction.
type EligibilityService struct {
	catalog     programCatalog
	enrollments enrollmentLedger
	logger      *zap.Logger
	now         func() time.Time
}

// NewEligibilityService constructs EligibilityService.
func NewEligibilityService(catalog programCatalog, enrollments enrollmentLedger, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{catalog: catalog, enrollments: enrollments, logger: logger, now: time.Now}
}

// Check validates that a student may enroll in a program. Checks run in
// priority order and the first failure wins, so the caller always gets the
// most actionable reason. On success the loaded program is returned.
func (s *EligibilityService) Check(ctx context.Context, studentID, programID string) (*models.Program, error) {
	program, err := s.catalog.GetProgram(ctx, programID)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.ErrProgramNotFound
		}
		return nil, err
	}
	if program.Status != models.ProgramStatusActive {
		return nil, appErrors.WithDetails(appErrors.ErrProgramNotFound, "",
			map[string]any{"program_status": program.Status})
	}

	existing, err := s.enrollments.FindBlocking(ctx, studentID, programID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if existing != nil {
		return nil, appErrors.WithDetails(appErrors.ErrAlreadyEnrolled, "",
			map[string]any{"enrollment_id": existing.ID, "enrollment_status": existing.Status})
	}

	today := truncateToDay(s.now().UTC())
	if !truncateToDay(program.StartDate).After(today) {
		if program.EndDate != nil && truncateToDay(*program.EndDate).Before(today) {
			return nil, appErrors.ErrProgramEnded
		}
		return nil, appErrors.ErrProgramInProgress
	}

	enrolled, err := s.enrollments.CountActiveLineage(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if enrolled >= program.MaxStudents {
		return nil, appErrors.WithDetails(appErrors.ErrProgramFull,
			fmt.Sprintf("program is full (%d/%d slots taken)", enrolled, program.MaxStudents),
			map[string]any{"enrolled": enrolled, "capacity": program.MaxStudents})
	}

	conflicts, err := s.scheduleConflicts(ctx, program, studentID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrScheduleConflict, "",
			map[string]any{"conflicting_programs": conflicts})
	}

	return program, nil
}

func (s *EligibilityService) scheduleConflicts(ctx context.Context, candidate *models.Program, studentID string) ([]models.ProgramRef, error) {
	active, err := s.enrollments.ListActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student enrollments")
	}
	if len(active) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(active))
	for _, e := range active {
		if e.ProgramID != candidate.ID {
			ids = append(ids, e.ProgramID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	programs, err := s.catalog.GetPrograms(ctx, ids)
	if err != nil {
		return nil, err
	}

	conflicts, err := DetectConflicts(candidate, programs)
	if err != nil {
		// Malformed weekday or clock values are data-integrity problems in
		// the catalog, not a user error.
		s.logger.Error("conflict detection failed", zap.String("program_id", candidate.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate schedule conflicts")
	}
	return conflicts, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
