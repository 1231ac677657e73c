package service

import (
	"time"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

// paymentTransition represents a valid state transition.
type paymentTransition struct {
	From models.PaymentStatus
	To   models.PaymentStatus
}

// validPaymentTransitions defines all allowed state transitions. There is no
// path from AWAITING_PAYMENT straight to VALIDATED or REJECTED: every
// payment passes through PENDING_VALIDATION.
var validPaymentTransitions = map[paymentTransition]bool{
	{models.PaymentStatusAwaiting, models.PaymentStatusPendingValidation}: true, // student submits proof
	{models.PaymentStatusPendingValidation, models.PaymentStatusValidated}: true, // admin accepts
	{models.PaymentStatusPendingValidation, models.PaymentStatusRejected}:  true, // admin rejects
	{models.PaymentStatusRejected, models.PaymentStatusPendingValidation}:  true, // student resubmits
}

// CanTransitionPayment checks if a transition between two payment states is valid.
func CanTransitionPayment(from, to models.PaymentStatus) bool {
	return validPaymentTransitions[paymentTransition{from, to}]
}

// DerivedPaymentStatus computes the display state for an awaiting payment by
// comparing its due date against now. It is never persisted.
func DerivedPaymentStatus(dueDate, now time.Time) models.PaymentDisplayStatus {
	dueY, dueM, dueD := dueDate.UTC().Date()
	nowY, nowM, nowD := now.UTC().Date()
	due := time.Date(dueY, dueM, dueD, 0, 0, 0, 0, time.UTC)
	today := time.Date(nowY, nowM, nowD, 0, 0, 0, 0, time.UTC)
	switch {
	case due.Before(today):
		return models.PaymentDisplayOverdue
	case due.Equal(today):
		return models.PaymentDisplayDueToday
	default:
		return models.PaymentDisplayDue
	}
}

// submission moves a payment into PENDING_VALIDATION from the given source
// state. Installment k>1 is locked until installment k-1 is validated.
func submission(p models.Payment, prior *models.Payment, from models.PaymentStatus, reference, proofRef, actor string, now time.Time) (models.Payment, models.PaymentEvent, error) {
	if reference == "" {
		return p, models.PaymentEvent{}, appErrors.ErrMissingReference
	}
	if proofRef == "" {
		return p, models.PaymentEvent{}, appErrors.ErrMissingProof
	}
	if p.Status != from || !CanTransitionPayment(from, models.PaymentStatusPendingValidation) {
		return p, models.PaymentEvent{}, appErrors.WithDetails(appErrors.ErrInvalidTransition, "",
			map[string]any{"current_status": p.Status})
	}
	if p.InstallmentNumber > 1 && (prior == nil || prior.Status != models.PaymentStatusValidated) {
		details := map[string]any{"installment_number": p.InstallmentNumber}
		if prior != nil {
			details["previous_status"] = prior.Status
		}
		return p, models.PaymentEvent{}, appErrors.WithDetails(appErrors.ErrSequenceLocked, "", details)
	}

	fromStatus := p.Status
	p.Status = models.PaymentStatusPendingValidation
	p.ReferenceNumber = &reference
	p.ProofRef = &proofRef
	p.RejectionReason = nil

	event := models.PaymentEvent{
		PaymentID:       p.ID,
		FromStatus:      fromStatus,
		ToStatus:        p.Status,
		Actor:           actor,
		ReferenceNumber: &reference,
		ProofRef:        &proofRef,
		CreatedAt:       now,
	}
	return p, event, nil
}

// SubmitPayment applies the submit transition for an awaiting installment.
func SubmitPayment(p models.Payment, prior *models.Payment, reference, proofRef, actor string, now time.Time) (models.Payment, models.PaymentEvent, error) {
	return submission(p, prior, models.PaymentStatusAwaiting, reference, proofRef, actor, now)
}

// ResubmitPayment applies the resubmit transition for a rejected installment.
// The prior rejection reason is cleared on the row; the audit trail keeps it.
func ResubmitPayment(p models.Payment, prior *models.Payment, reference, proofRef, actor string, now time.Time) (models.Payment, models.PaymentEvent, error) {
	return submission(p, prior, models.PaymentStatusRejected, reference, proofRef, actor, now)
}

// ValidatePayment applies the admin validation transition. Validated is
// terminal for the installment.
func ValidatePayment(p models.Payment, adminID string, now time.Time) (models.Payment, models.PaymentEvent, error) {
	if p.Status == models.PaymentStatusValidated {
		return p, models.PaymentEvent{}, appErrors.ErrAlreadyValidated
	}
	if !CanTransitionPayment(p.Status, models.PaymentStatusValidated) {
		return p, models.PaymentEvent{}, appErrors.WithDetails(appErrors.ErrInvalidTransition, "",
			map[string]any{"current_status": p.Status})
	}

	fromStatus := p.Status
	p.Status = models.PaymentStatusValidated
	p.ValidatedBy = &adminID
	validatedAt := now
	p.ValidatedAt = &validatedAt

	event := models.PaymentEvent{
		PaymentID:  p.ID,
		FromStatus: fromStatus,
		ToStatus:   p.Status,
		Actor:      adminID,
		CreatedAt:  now,
	}
	return p, event, nil
}

// RejectPayment applies the admin rejection transition, recording the reason.
func RejectPayment(p models.Payment, adminID, reason string, now time.Time) (models.Payment, models.PaymentEvent, error) {
	if reason == "" {
		return p, models.PaymentEvent{}, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	if p.Status == models.PaymentStatusValidated {
		return p, models.PaymentEvent{}, appErrors.ErrAlreadyValidated
	}
	if !CanTransitionPayment(p.Status, models.PaymentStatusRejected) {
		return p, models.PaymentEvent{}, appErrors.WithDetails(appErrors.ErrInvalidTransition, "",
			map[string]any{"current_status": p.Status})
	}

	fromStatus := p.Status
	p.Status = models.PaymentStatusRejected
	p.RejectionReason = &reason

	event := models.PaymentEvent{
		PaymentID:  p.ID,
		FromStatus: fromStatus,
		ToStatus:   p.Status,
		Actor:      adminID,
		Reason:     &reason,
		CreatedAt:  now,
	}
	return p, event, nil
}
