package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
)

// PaymentRepository handles persistence of installment payments and their
// audit trail.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, enrollment_id, installment_number, total_installments, amount_cents, due_date,
        status, reference_number, proof_ref, rejection_reason, validated_by, validated_at, created_at, updated_at`

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByEnrollment returns the installment rows of an enrollment in order.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE enrollment_id = $1 ORDER BY installment_number`, paymentColumns)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

// ListEvents returns the audit trail of a payment, oldest first.
func (r *PaymentRepository) ListEvents(ctx context.Context, paymentID string) ([]models.PaymentEvent, error) {
	const query = `SELECT id, payment_id, from_status, to_status, actor, reference_number, proof_ref, reason, created_at
        FROM payment_events WHERE payment_id = $1 ORDER BY created_at`
	var events []models.PaymentEvent
	if err := r.db.SelectContext(ctx, &events, query, paymentID); err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	return events, nil
}

// Transition applies a state change to a payment under a row lock. The
// payment and, when it exists, the previous installment of the same
// enrollment are read inside the transaction, handed to decide, and the
// returned row plus audit event are persisted atomically. Decide must be
// pure; returning an error rolls everything back.
func (r *PaymentRepository) Transition(ctx context.Context, id string,
	decide func(current models.Payment, prior *models.Payment) (models.Payment, models.PaymentEvent, error)) (payment *models.Payment, err error) {

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Payment
	lockQuery := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 FOR UPDATE`, paymentColumns)
	if err = tx.GetContext(ctx, &current, lockQuery, id); err != nil {
		return nil, err
	}

	var prior *models.Payment
	if current.InstallmentNumber > 1 {
		var previous models.Payment
		priorQuery := fmt.Sprintf(`SELECT %s FROM payments WHERE enrollment_id = $1 AND installment_number = $2`, paymentColumns)
		err = tx.GetContext(ctx, &previous, priorQuery, current.EnrollmentID, current.InstallmentNumber-1)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("load prior installment: %w", err)
		}
		if err == nil {
			prior = &previous
		}
		err = nil
	}

	next, event, err := decide(current, prior)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	const updateQuery = `UPDATE payments SET status = :status, reference_number = :reference_number,
        proof_ref = :proof_ref, rejection_reason = :rejection_reason, validated_by = :validated_by,
        validated_at = :validated_at, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, updateQuery, next); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.PaymentID = next.ID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = next.UpdatedAt
	}
	const eventQuery = `INSERT INTO payment_events (id, payment_id, from_status, to_status, actor,
        reference_number, proof_ref, reason, created_at)
        VALUES (:id, :payment_id, :from_status, :to_status, :actor, :reference_number, :proof_ref, :reason, :created_at)`
	if _, err = tx.NamedExecContext(ctx, eventQuery, event); err != nil {
		return nil, fmt.Errorf("record payment event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment transition: %w", err)
	}
	return &next, nil
}
