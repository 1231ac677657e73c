package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

func TestCanTransitionPayment(t *testing.T) {
	allowed := []paymentTransition{
		{models.PaymentStatusAwaiting, models.PaymentStatusPendingValidation},
		{models.PaymentStatusPendingValidation, models.PaymentStatusValidated},
		{models.PaymentStatusPendingValidation, models.PaymentStatusRejected},
		{models.PaymentStatusRejected, models.PaymentStatusPendingValidation},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransitionPayment(tr.From, tr.To), "%s -> %s", tr.From, tr.To)
	}

	denied := []paymentTransition{
		{models.PaymentStatusAwaiting, models.PaymentStatusValidated},
		{models.PaymentStatusAwaiting, models.PaymentStatusRejected},
		{models.PaymentStatusValidated, models.PaymentStatusPendingValidation},
		{models.PaymentStatusValidated, models.PaymentStatusRejected},
		{models.PaymentStatusRejected, models.PaymentStatusValidated},
		{models.PaymentStatusPendingValidation, models.PaymentStatusAwaiting},
	}
	for _, tr := range denied {
		assert.False(t, CanTransitionPayment(tr.From, tr.To), "%s -> %s", tr.From, tr.To)
	}
}

func TestDerivedPaymentStatus(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, models.PaymentDisplayDue, DerivedPaymentStatus(now.Add(24*time.Hour), now))
	assert.Equal(t, models.PaymentDisplayOverdue, DerivedPaymentStatus(now.Add(-24*time.Hour), now))

	// Same calendar day counts as due today regardless of clock time.
	morning := time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, models.PaymentDisplayDueToday, DerivedPaymentStatus(morning, now))
	evening := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, models.PaymentDisplayDueToday, DerivedPaymentStatus(evening, now))
}

func awaitingPayment(installment int) models.Payment {
	return models.Payment{
		ID:                "pay-1",
		EnrollmentID:      "enr-1",
		InstallmentNumber: installment,
		TotalInstallments: 3,
		AmountCents:       100000,
		DueDate:           time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Status:            models.PaymentStatusAwaiting,
	}
}

func TestSubmitPaymentFirstInstallment(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	updated, event, err := SubmitPayment(awaitingPayment(1), nil, "TRX-001", "2026/08/proof.png", "stu-1", now)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPendingValidation, updated.Status)
	require.NotNil(t, updated.ReferenceNumber)
	assert.Equal(t, "TRX-001", *updated.ReferenceNumber)
	require.NotNil(t, updated.ProofRef)
	assert.Equal(t, "2026/08/proof.png", *updated.ProofRef)

	assert.Equal(t, models.PaymentStatusAwaiting, event.FromStatus)
	assert.Equal(t, models.PaymentStatusPendingValidation, event.ToStatus)
	assert.Equal(t, "stu-1", event.Actor)
	assert.Equal(t, now, event.CreatedAt)
}

func TestSubmitPaymentMissingReference(t *testing.T) {
	_, _, err := SubmitPayment(awaitingPayment(1), nil, "", "proof.png", "stu-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMissingReference))
}

func TestSubmitPaymentMissingProof(t *testing.T) {
	_, _, err := SubmitPayment(awaitingPayment(1), nil, "TRX-001", "", "stu-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMissingProof))
}

func TestSubmitPaymentSequenceLocked(t *testing.T) {
	prior := awaitingPayment(1)
	prior.Status = models.PaymentStatusPendingValidation

	_, _, err := SubmitPayment(awaitingPayment(2), &prior, "TRX-002", "proof.png", "stu-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSequenceLocked))

	// Missing prior row locks too.
	_, _, err = SubmitPayment(awaitingPayment(2), nil, "TRX-002", "proof.png", "stu-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSequenceLocked))
}

func TestSubmitPaymentUnlockedAfterPriorValidated(t *testing.T) {
	prior := awaitingPayment(1)
	prior.Status = models.PaymentStatusValidated

	updated, _, err := SubmitPayment(awaitingPayment(2), &prior, "TRX-002", "proof.png", "stu-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingValidation, updated.Status)
}

func TestSubmitPaymentWrongState(t *testing.T) {
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusPendingValidation

	_, _, err := SubmitPayment(p, nil, "TRX-001", "proof.png", "stu-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestResubmitPaymentClearsRejectionReason(t *testing.T) {
	reason := "illegible proof"
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusRejected
	p.RejectionReason = &reason

	updated, event, err := ResubmitPayment(p, nil, "TRX-001B", "proof-2.png", "stu-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingValidation, updated.Status)
	assert.Nil(t, updated.RejectionReason)
	assert.Equal(t, models.PaymentStatusRejected, event.FromStatus)
}

func TestResubmitPaymentFromAwaitingRejected(t *testing.T) {
	_, _, err := ResubmitPayment(awaitingPayment(1), nil, "TRX-001", "proof.png", "stu-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestValidatePayment(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusPendingValidation

	updated, event, err := ValidatePayment(p, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusValidated, updated.Status)
	require.NotNil(t, updated.ValidatedBy)
	assert.Equal(t, "admin-1", *updated.ValidatedBy)
	require.NotNil(t, updated.ValidatedAt)
	assert.Equal(t, now, *updated.ValidatedAt)
	assert.Equal(t, "admin-1", event.Actor)
}

func TestValidatePaymentAlreadyValidated(t *testing.T) {
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusValidated

	_, _, err := ValidatePayment(p, "admin-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyValidated))
}

func TestValidatePaymentFromAwaitingRejected(t *testing.T) {
	_, _, err := ValidatePayment(awaitingPayment(1), "admin-1", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestRejectPayment(t *testing.T) {
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusPendingValidation

	updated, event, err := RejectPayment(p, "admin-1", "amount mismatch", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRejected, updated.Status)
	require.NotNil(t, updated.RejectionReason)
	assert.Equal(t, "amount mismatch", *updated.RejectionReason)
	require.NotNil(t, event.Reason)
	assert.Equal(t, "amount mismatch", *event.Reason)
}

func TestRejectPaymentRequiresReason(t *testing.T) {
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusPendingValidation

	_, _, err := RejectPayment(p, "admin-1", "", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRejectPaymentAfterValidation(t *testing.T) {
	p := awaitingPayment(1)
	p.Status = models.PaymentStatusValidated

	_, _, err := RejectPayment(p, "admin-1", "too late", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyValidated))
}
