package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dmyRegex      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	isoRegex      = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	relativeRegex = regexp.MustCompile(`^(\d+)\s*(h|hour|hours|d|day|days|w|week|weeks)$`)
)

// ParseDueDate parses a due date relative to the current time.
// Supported formats:
// - dd/mm/yyyy (e.g., "15/12/2025")
// - yyyy-mm-dd (e.g., "2025-12-15")
// - X hours, X days, X weeks (e.g., "24 hours", "3 days", "2w", "3days")
func ParseDueDate(input string) (*time.Time, error) {
	return ParseDueDateAt(input, time.Now())
}

// ParseDueDateAt is ParseDueDate with an explicit reference time
func ParseDueDateAt(input string, now time.Time) (*time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}

	if m := dmyRegex.FindStringSubmatch(input); m != nil {
		return calendarDate(m[3], m[2], m[1], now.Location())
	}
	if m := isoRegex.FindStringSubmatch(input); m != nil {
		return calendarDate(m[1], m[2], m[3], now.Location())
	}
	if due, err := parseRelativeTime(strings.ToLower(input), now); err == nil {
		return due, nil
	} else if relativeRegex.MatchString(strings.ToLower(input)) {
		return nil, err
	}

	return nil, fmt.Errorf("invalid date format. Use: dd/mm/yyyy, yyyy-mm-dd, X days, X hours, or X weeks")
}

// calendarDate builds the end of the given day
func calendarDate(y, m, d string, loc *time.Location) (*time.Time, error) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)

	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month must be between 1 and 12")
	}
	if day < 1 || day > 31 {
		return nil, fmt.Errorf("day must be between 1 and 31")
	}
	if year < 2000 || year > 2100 {
		return nil, fmt.Errorf("year must be between 2000 and 2100")
	}

	due := time.Date(year, time.Month(month), day, 23, 59, 59, 0, loc)
	// time.Date normalises 31/02 into March
	if due.Day() != day || due.Month() != time.Month(month) {
		return nil, fmt.Errorf("invalid date")
	}
	return &due, nil
}

func parseRelativeTime(input string, now time.Time) (*time.Time, error) {
	m := relativeRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("invalid relative time format")
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid number")
	}

	endOfDay := func(days int) *time.Time {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		due := today.AddDate(0, 0, days).Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		return &due
	}

	switch m[2] {
	case "h", "hour", "hours":
		if amount < 1 || amount > 8760 {
			return nil, fmt.Errorf("hours must be between 1 and 8760")
		}
		due := now.Add(time.Duration(amount) * time.Hour)
		return &due, nil
	case "d", "day", "days":
		if amount < 1 || amount > 365 {
			return nil, fmt.Errorf("days must be between 1 and 365")
		}
		return endOfDay(amount), nil
	default:
		if amount < 1 || amount > 52 {
			return nil, fmt.Errorf("weeks must be between 1 and 52")
		}
		return endOfDay(amount * 7), nil
	}
}

// FormatDueDate formats a due date for display
func FormatDueDate(dueDate *time.Time) string {
	return FormatDueDateAt(dueDate, time.Now())
}

// FormatDueDateAt is FormatDueDate with an explicit reference time
func FormatDueDateAt(dueDate *time.Time, now time.Time) string {
	if dueDate == nil {
		return ""
	}
	local := dueDate.In(now.Location())

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dueDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, now.Location())
	daysDiff := int(dueDay.Sub(today).Hours() / 24)
	dateStr := local.Format("02/01/2006")

	switch {
	case daysDiff < 0:
		return fmt.Sprintf("OVERDUE (%s)", dateStr)
	case daysDiff == 0:
		return fmt.Sprintf("due today (%s)", dateStr)
	case daysDiff == 1:
		return fmt.Sprintf("due tomorrow (%s)", dateStr)
	case daysDiff <= 7:
		return fmt.Sprintf("due %s (in %d days)", dateStr, daysDiff)
	default:
		return fmt.Sprintf("due %s", dateStr)
	}
}
