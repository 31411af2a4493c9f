package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/balkashynov/tracker/internal/models"
)

// QuickTask is a task described on one line
type QuickTask struct {
	Name                string
	Tags                []string
	Priority            string
	DueDate             *time.Time
	PingIntervalMinutes int   // 0 when not given
	PingEnabled         *bool // nil when not given
	Errors              []string
}

var (
	tagRegex      = regexp.MustCompile(`#([a-zA-Z0-9_,-]+)`)
	priorityRegex = regexp.MustCompile(`(?:^|\s)\+([a-zA-Z0-9]+)`)
	dueRegex      = regexp.MustCompile(`due:(\S+)`)
	pingRegex     = regexp.MustCompile(`ping:(\S+)`)
)

// ParseTitle extracts metadata from a one-line task description
// Syntax: "Task name #tag1,tag2 +priority due:3days ping:15"
// ping: takes a number of minutes or "off".
func ParseTitle(input string) QuickTask {
	return ParseTitleAt(input, time.Now())
}

// ParseTitleAt is ParseTitle with an explicit reference time for due dates
func ParseTitleAt(input string, now time.Time) QuickTask {
	result := QuickTask{Tags: []string{}}

	for _, match := range tagRegex.FindAllStringSubmatch(input, -1) {
		for _, tag := range strings.Split(match[1], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				result.Tags = append(result.Tags, tag)
			}
		}
	}
	input = tagRegex.ReplaceAllString(input, "")

	if m := priorityRegex.FindStringSubmatch(input); m != nil {
		if p, ok := models.ParsePriority(m[1]); ok {
			result.Priority = string(p)
		} else {
			result.Errors = append(result.Errors, "Invalid priority '"+m[1]+"'. Use: low, medium, high, critical or 1-4")
		}
		input = priorityRegex.ReplaceAllString(input, " ")
	}

	if m := dueRegex.FindStringSubmatch(input); m != nil {
		due, err := ParseDueDateAt(m[1], now)
		if err != nil {
			result.Errors = append(result.Errors, "Invalid due date '"+m[1]+"': "+err.Error())
		} else {
			result.DueDate = due
		}
		input = dueRegex.ReplaceAllString(input, "")
	}

	if m := pingRegex.FindStringSubmatch(input); m != nil {
		value := strings.ToLower(m[1])
		switch {
		case value == "off" || value == "no":
			off := false
			result.PingEnabled = &off
		default:
			minutes, err := strconv.Atoi(strings.TrimSuffix(value, "m"))
			if err != nil || minutes <= 0 {
				result.Errors = append(result.Errors, "Invalid ping interval '"+m[1]+"'. Use minutes (e.g. ping:15) or ping:off")
			} else {
				result.PingIntervalMinutes = minutes
			}
		}
		input = pingRegex.ReplaceAllString(input, "")
	}

	result.Name = strings.Join(strings.Fields(input), " ")
	return result
}
