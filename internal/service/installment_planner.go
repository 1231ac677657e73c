package service

import (
	"time"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

// Installment plans supported by the portal.
const (
	MinInstallments = 1
	MaxInstallments = 3
)

// QuotePlan derives the per-installment amounts and due dates for a fee. All
// arithmetic is in integer minor units; the division remainder is added to
// the last installment so the amounts always reconcile exactly to the fee.
// The first installment is due immediately, later ones at the policy
// interval.
func QuotePlan(feeCents int64, installments int, firstDue time.Time, interval time.Duration) ([]models.InstallmentQuote, error) {
	if installments < MinInstallments || installments > MaxInstallments {
		return nil, appErrors.Clone(appErrors.ErrValidation, "installment plan must be 1, 2 or 3")
	}
	if feeCents < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fee must not be negative")
	}

	base := feeCents / int64(installments)
	remainder := feeCents - base*int64(installments)

	quotes := make([]models.InstallmentQuote, installments)
	for i := 0; i < installments; i++ {
		amount := base
		if i == installments-1 {
			amount += remainder
		}
		quotes[i] = models.InstallmentQuote{
			InstallmentNumber: i + 1,
			AmountCents:       amount,
			DueDate:           firstDue.Add(time.Duration(i) * interval),
		}
	}
	return quotes, nil
}

// RemainingBalance sums the amounts of installments not yet validated. Used
// for the outstanding-balance line on payment pages.
func RemainingBalance(payments []models.Payment) int64 {
	var remaining int64
	for _, p := range payments {
		if p.Status != models.PaymentStatusValidated {
			remaining += p.AmountCents
		}
	}
	return remaining
}
