package models

import (
	"time"

	"github.com/lib/pq"
)

// ProgramStatus represents the publication state of a tutoring program.
type ProgramStatus string

// Possible program statuses.
const (
	ProgramStatusDraft    ProgramStatus = "DRAFT"
	ProgramStatusActive   ProgramStatus = "ACTIVE"
	ProgramStatusArchived ProgramStatus = "ARCHIVED"
)

// Weekday codes used in program schedules.
const (
	WeekdayMonday    = "MON"
	WeekdayTuesday   = "TUE"
	WeekdayWednesday = "WED"
	WeekdayThursday  = "THU"
	WeekdayFriday    = "FRI"
	WeekdaySaturday  = "SAT"
	WeekdaySunday    = "SUN"
)

// Program describes a tutoring program offering. The engine reads programs
// but never writes them; staff tooling owns their lifecycle.
type Program struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	FeeCents    int64          `db:"fee_cents" json:"fee_cents"`
	MaxStudents int            `db:"max_students" json:"max_students"`
	Status      ProgramStatus  `db:"status" json:"status"`
	StartDate   time.Time      `db:"start_date" json:"start_date"`
	EndDate     *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Weekdays    pq.StringArray `db:"weekdays" json:"weekdays"`
	StartTime   *string        `db:"start_time" json:"start_time,omitempty"`
	EndTime     *string        `db:"end_time" json:"end_time,omitempty"`
	Location    string         `db:"location" json:"location"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// HasTimeRange reports whether the program defines an explicit daily slot.
// Programs without one occupy the whole day for conflict purposes.
func (p *Program) HasTimeRange() bool {
	return p.StartTime != nil && p.EndTime != nil
}

// ProgramRef is a compact reference to a program used in conflict reports.
type ProgramRef struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Weekdays  []string `json:"weekdays"`
	StartTime *string  `json:"start_time,omitempty"`
	EndTime   *string  `json:"end_time,omitempty"`
}

// Ref converts a program into its reference form.
func (p *Program) Ref() ProgramRef {
	return ProgramRef{
		ID:        p.ID,
		Name:      p.Name,
		Weekdays:  append([]string(nil), p.Weekdays...),
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
	}
}

// ProgramFilter describes query params for listing programs.
type ProgramFilter struct {
	Status    ProgramStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
