package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// CountsTowardCapacity reports whether the status occupies a program slot.
// Only pending and active enrollments do; cancelled and completed free it.
func (s EnrollmentStatus) CountsTowardCapacity() bool {
	return s == EnrollmentStatusPending || s == EnrollmentStatusActive
}

// BlocksReenrollment reports whether an existing enrollment with this status
// prevents the same student from enrolling in the same program again.
func (s EnrollmentStatus) BlocksReenrollment() bool {
	return s == EnrollmentStatusPending || s == EnrollmentStatusActive || s == EnrollmentStatusCompleted
}

// Enrollment captures a student's registration to a program.
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	ProgramID    string           `db:"program_id" json:"program_id"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	Installments int              `db:"installments" json:"installments"`
	EnrolledAt   time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollmentDetail enriches Enrollment with program info.
type EnrollmentDetail struct {
	Enrollment
	ProgramName string `db:"program_name" json:"program_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ProgramID string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EligibilityResult is the advisory outcome of an eligibility check.
type EligibilityResult struct {
	Eligible bool      `json:"eligible"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	Details  any       `json:"details,omitempty"`
	Checked  time.Time `json:"checked_at"`
}
