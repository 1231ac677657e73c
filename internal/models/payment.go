package models

import "time"

// PaymentStatus represents the persisted lifecycle state of an installment
// payment. Due, due-today and overdue are display states derived from the
// due date and are never stored.
type PaymentStatus string

// Persisted payment statuses.
const (
	PaymentStatusAwaiting          PaymentStatus = "AWAITING_PAYMENT"
	PaymentStatusPendingValidation PaymentStatus = "PENDING_VALIDATION"
	PaymentStatusValidated         PaymentStatus = "VALIDATED"
	PaymentStatusRejected          PaymentStatus = "REJECTED"
)

// PaymentDisplayStatus is the UI-facing state layered over AWAITING_PAYMENT.
type PaymentDisplayStatus string

// Derived display statuses.
const (
	PaymentDisplayDue      PaymentDisplayStatus = "DUE"
	PaymentDisplayDueToday PaymentDisplayStatus = "DUE_TODAY"
	PaymentDisplayOverdue  PaymentDisplayStatus = "OVERDUE"
)

// Payment is one installment of an enrollment's fee.
type Payment struct {
	ID                string        `db:"id" json:"id"`
	EnrollmentID      string        `db:"enrollment_id" json:"enrollment_id"`
	InstallmentNumber int           `db:"installment_number" json:"installment_number"`
	TotalInstallments int           `db:"total_installments" json:"total_installments"`
	AmountCents       int64         `db:"amount_cents" json:"amount_cents"`
	DueDate           time.Time     `db:"due_date" json:"due_date"`
	Status            PaymentStatus `db:"status" json:"status"`
	ReferenceNumber   *string       `db:"reference_number" json:"reference_number,omitempty"`
	ProofRef          *string       `db:"proof_ref" json:"proof_ref,omitempty"`
	RejectionReason   *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ValidatedBy       *string       `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt       *time.Time    `db:"validated_at" json:"validated_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentView decorates a payment with its derived display status. The
// display status is only populated while the row is awaiting payment.
type PaymentView struct {
	Payment
	DisplayStatus PaymentDisplayStatus `json:"display_status,omitempty"`
}

// PaymentEvent is one entry in a payment's audit trail. Every transition
// appends an event; rejection reasons stay queryable after resubmission.
type PaymentEvent struct {
	ID              string        `db:"id" json:"id"`
	PaymentID       string        `db:"payment_id" json:"payment_id"`
	FromStatus      PaymentStatus `db:"from_status" json:"from_status"`
	ToStatus        PaymentStatus `db:"to_status" json:"to_status"`
	Actor           string        `db:"actor" json:"actor"`
	ReferenceNumber *string       `db:"reference_number" json:"reference_number,omitempty"`
	ProofRef        *string       `db:"proof_ref" json:"proof_ref,omitempty"`
	Reason          *string       `db:"reason" json:"reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// InstallmentQuote is one line of a quoted installment plan.
type InstallmentQuote struct {
	InstallmentNumber int       `json:"installment_number"`
	AmountCents       int64     `json:"amount_cents"`
	DueDate           time.Time `json:"due_date"`
}
