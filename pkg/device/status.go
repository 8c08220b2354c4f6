package device

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Display geometry.
const (
	TitleWidth = 16
	BodyWidth  = 60
)

// Hold times.
const (
	ReportHold    = 10 * time.Millisecond
	HeartbeatHold = 10 * time.Millisecond
	ErrorHold     = time.Second
	InitHold      = time.Second
)

// Error titles.
const (
	TitleCommandError = "C Error"
	TitleProcessError = "P Error"
	TitleMonitorError = "M Error"
)

// Priority orders statuses. A status being held on the display can only
// be cut short by a pending status of strictly higher priority.
type Priority int

// Priorities.
const (
	PriorityHeartbeat Priority = iota
	PriorityInfo
	PriorityError
)

func (p Priority) String() string {
	switch p {
	case PriorityHeartbeat:
		return "heartbeat"
	case PriorityInfo:
		return "info"
	case PriorityError:
		return "error"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Status is a message for the display.
type Status struct {
	Rendered bool
	Title    string
	Body     string
	HoldTime time.Duration
	Priority Priority
}

// NewStatus creates an unrendered Status, truncating title and body to
// the display geometry.
func NewStatus(title, body string, hold time.Duration, pr Priority) Status {
	return Status{
		Title:    truncate(title, TitleWidth),
		Body:     truncate(body, BodyWidth),
		HoldTime: hold,
		Priority: pr,
	}
}

// ErrorStatus reports err under title.
func ErrorStatus(title string, err error) Status {
	return NewStatus(title, err.Error(), ErrorHold, PriorityError)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
