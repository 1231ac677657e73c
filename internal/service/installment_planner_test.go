package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

func TestQuotePlanEvenSplit(t *testing.T) {
	firstDue := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	quotes, err := QuotePlan(300000, 3, firstDue, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	for i, q := range quotes {
		assert.Equal(t, i+1, q.InstallmentNumber)
		assert.Equal(t, int64(100000), q.AmountCents)
		assert.Equal(t, firstDue.Add(time.Duration(i)*30*24*time.Hour), q.DueDate)
	}
}

func TestQuotePlanRemainderGoesToLast(t *testing.T) {
	firstDue := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	quotes, err := QuotePlan(100000, 3, firstDue, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	assert.Equal(t, int64(33333), quotes[0].AmountCents)
	assert.Equal(t, int64(33333), quotes[1].AmountCents)
	assert.Equal(t, int64(33334), quotes[2].AmountCents)

	var sum int64
	for _, q := range quotes {
		sum += q.AmountCents
	}
	assert.Equal(t, int64(100000), sum)
}

func TestQuotePlanReconcilesAcrossFees(t *testing.T) {
	firstDue := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, fee := range []int64{0, 1, 2, 99, 100001, 7777777} {
		for installments := MinInstallments; installments <= MaxInstallments; installments++ {
			quotes, err := QuotePlan(fee, installments, firstDue, 24*time.Hour)
			require.NoError(t, err)
			var sum int64
			for _, q := range quotes {
				sum += q.AmountCents
			}
			assert.Equal(t, fee, sum, "fee %d over %d installments", fee, installments)
		}
	}
}

func TestQuotePlanSingleInstallment(t *testing.T) {
	firstDue := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	quotes, err := QuotePlan(250000, 1, firstDue, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, int64(250000), quotes[0].AmountCents)
	assert.Equal(t, firstDue, quotes[0].DueDate)
}

func TestQuotePlanInvalidInstallments(t *testing.T) {
	firstDue := time.Now().UTC()
	for _, n := range []int{0, -1, 4} {
		_, err := QuotePlan(100000, n, firstDue, 24*time.Hour)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	}
}

func TestQuotePlanNegativeFee(t *testing.T) {
	_, err := QuotePlan(-1, 2, time.Now().UTC(), 24*time.Hour)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRemainingBalance(t *testing.T) {
	payments := []models.Payment{
		{AmountCents: 33333, Status: models.PaymentStatusValidated},
		{AmountCents: 33333, Status: models.PaymentStatusPendingValidation},
		{AmountCents: 33334, Status: models.PaymentStatusAwaiting},
	}
	assert.Equal(t, int64(66667), RemainingBalance(payments))

	payments[1].Status = models.PaymentStatusValidated
	payments[2].Status = models.PaymentStatusValidated
	assert.Equal(t, int64(0), RemainingBalance(payments))
}
