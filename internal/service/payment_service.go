package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

type paymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error)
	ListEvents(ctx context.Context, paymentID string) ([]models.PaymentEvent, error)
	Transition(ctx context.Context, id string, decide func(current models.Payment, prior *models.Payment) (models.Payment, models.PaymentEvent, error)) (*models.Payment, error)
}

type transitionMetrics interface {
	RecordPaymentTransition(to models.PaymentStatus)
}

// SubmitPaymentRequest carries a student's proof submission. ProofRef is the
// attachment reference produced by the proof store; the handler owns the
// upload itself.
type SubmitPaymentRequest struct {
	ReferenceNumber string `json:"reference_number" validate:"required"`
	ProofRef        string `json:"proof_ref" validate:"required"`
	Actor           string `json:"-"`
}

// RejectPaymentRequest carries the admin rejection payload.
type RejectPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PaymentHistory pairs a payment with its audit trail.
type PaymentHistory struct {
	Payment models.PaymentView    `json:"payment"`
	Events  []models.PaymentEvent `json:"events"`
}

// PaymentService drives each installment through its lifecycle. Every
// transition runs under a row lock so the stored state can never be
// corrupted by concurrent submissions or double validation.
type PaymentService struct {
	repo      paymentRepository
	validator *validator.Validate
	metrics   transitionMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, validate *validator.Validate, metrics transitionMetrics, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{repo: repo, validator: validate, metrics: metrics, logger: logger, now: time.Now}
}

// Submit moves an awaiting installment into pending validation.
func (s *PaymentService) Submit(ctx context.Context, paymentID string, req SubmitPaymentRequest) (*models.PaymentView, error) {
	return s.submission(ctx, paymentID, req, SubmitPayment)
}

// Resubmit moves a rejected installment back into pending validation with a
// corrected reference and proof.
func (s *PaymentService) Resubmit(ctx context.Context, paymentID string, req SubmitPaymentRequest) (*models.PaymentView, error) {
	return s.submission(ctx, paymentID, req, ResubmitPayment)
}

func (s *PaymentService) submission(ctx context.Context, paymentID string, req SubmitPaymentRequest,
	apply func(models.Payment, *models.Payment, string, string, string, time.Time) (models.Payment, models.PaymentEvent, error)) (*models.PaymentView, error) {

	if req.ReferenceNumber == "" {
		return nil, appErrors.ErrMissingReference
	}
	if req.ProofRef == "" {
		return nil, appErrors.ErrMissingProof
	}

	now := s.now().UTC()
	updated, err := s.repo.Transition(ctx, paymentID, func(current models.Payment, prior *models.Payment) (models.Payment, models.PaymentEvent, error) {
		return apply(current, prior, req.ReferenceNumber, req.ProofRef, req.Actor, now)
	})
	if err != nil {
		return nil, s.mapTransitionError(err)
	}

	s.recordTransition(updated)
	s.logger.Info("payment submitted",
		zap.String("payment_id", updated.ID),
		zap.Int("installment", updated.InstallmentNumber),
		zap.String("status", string(updated.Status)))
	return s.view(updated), nil
}

// Validate confirms a submitted payment. Admin authorization is enforced by
// the caller; adminID only feeds the audit trail.
func (s *PaymentService) Validate(ctx context.Context, paymentID, adminID string) (*models.PaymentView, error) {
	now := s.now().UTC()
	updated, err := s.repo.Transition(ctx, paymentID, func(current models.Payment, _ *models.Payment) (models.Payment, models.PaymentEvent, error) {
		return ValidatePayment(current, adminID, now)
	})
	if err != nil {
		return nil, s.mapTransitionError(err)
	}

	s.recordTransition(updated)
	s.logger.Info("payment validated",
		zap.String("payment_id", updated.ID),
		zap.String("admin_id", adminID))
	return s.view(updated), nil
}

// Reject declines a submitted payment with a reason the student can act on.
func (s *PaymentService) Reject(ctx context.Context, paymentID, adminID string, req RejectPaymentRequest) (*models.PaymentView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	now := s.now().UTC()
	updated, err := s.repo.Transition(ctx, paymentID, func(current models.Payment, _ *models.Payment) (models.Payment, models.PaymentEvent, error) {
		return RejectPayment(current, adminID, req.Reason, now)
	})
	if err != nil {
		return nil, s.mapTransitionError(err)
	}

	s.recordTransition(updated)
	s.logger.Info("payment rejected",
		zap.String("payment_id", updated.ID),
		zap.String("admin_id", adminID),
		zap.String("reason", req.Reason))
	return s.view(updated), nil
}

// ListByEnrollment returns the installments of an enrollment decorated with
// derived display statuses and the outstanding balance.
func (s *PaymentService) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentView, int64, error) {
	payments, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	views := make([]models.PaymentView, len(payments))
	for i := range payments {
		views[i] = *s.view(&payments[i])
	}
	return views, RemainingBalance(payments), nil
}

// History returns a payment and its full audit trail, including rejection
// reasons from before any resubmission.
func (s *PaymentService) History(ctx context.Context, paymentID string) (*PaymentHistory, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	events, err := s.repo.ListEvents(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment history")
	}
	return &PaymentHistory{Payment: *s.view(payment), Events: events}, nil
}

func (s *PaymentService) view(p *models.Payment) *models.PaymentView {
	view := models.PaymentView{Payment: *p}
	if p.Status == models.PaymentStatusAwaiting {
		view.DisplayStatus = DerivedPaymentStatus(p.DueDate, s.now().UTC())
	}
	return &view
}

func (s *PaymentService) recordTransition(p *models.Payment) {
	if s.metrics != nil {
		s.metrics.RecordPaymentTransition(p.Status)
	}
}

func (s *PaymentService) mapTransitionError(err error) error {
	if err == sql.ErrNoRows {
		return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
	}
	if appErr := appErrors.FromError(err); appErr.Code != appErrors.ErrInternal.Code {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
}
