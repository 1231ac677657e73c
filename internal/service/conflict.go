package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
)

// Full-day block applied when a program has no explicit time range. Keeping
// the check conservative means an untimed program collides with anything
// sharing one of its weekdays.
const (
	dayStartMinute = 0
	dayEndMinute   = 24 * 60
)

// ParseClock converts an "HH:MM" value into minutes since midnight.
func ParseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	return hours*60 + minutes, nil
}

func timeRangeMinutes(p *models.Program) (start, end int, err error) {
	if !p.HasTimeRange() {
		return dayStartMinute, dayEndMinute, nil
	}
	if start, err = ParseClock(*p.StartTime); err != nil {
		return 0, 0, fmt.Errorf("program %s: %w", p.ID, err)
	}
	if end, err = ParseClock(*p.EndTime); err != nil {
		return 0, 0, fmt.Errorf("program %s: %w", p.ID, err)
	}
	return start, end, nil
}

func weekdaysIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, day := range a {
		set[strings.ToUpper(day)] = struct{}{}
	}
	for _, day := range b {
		if _, ok := set[strings.ToUpper(day)]; ok {
			return true
		}
	}
	return false
}

// ProgramsOverlap reports whether two programs collide: their weekday sets
// intersect and their time ranges overlap under half-open semantics.
func ProgramsOverlap(a, b *models.Program) (bool, error) {
	if !weekdaysIntersect(a.Weekdays, b.Weekdays) {
		return false, nil
	}
	aStart, aEnd, err := timeRangeMinutes(a)
	if err != nil {
		return false, err
	}
	bStart, bEnd, err := timeRangeMinutes(b)
	if err != nil {
		return false, err
	}
	return aStart < bEnd && bStart < aEnd, nil
}

// DetectConflicts checks a candidate program against every program in the
// student's current course load and returns all that collide, so the caller
// can report the complete list rather than just the first hit.
func DetectConflicts(candidate *models.Program, enrolled []models.Program) ([]models.ProgramRef, error) {
	var conflicts []models.ProgramRef
	for i := range enrolled {
		overlap, err := ProgramsOverlap(candidate, &enrolled[i])
		if err != nil {
			return nil, err
		}
		if overlap {
			conflicts = append(conflicts, enrolled[i].Ref())
		}
	}
	return conflicts, nil
}
