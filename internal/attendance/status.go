package attendance

import "fmt"

// Status is the attendance lifecycle state. The set is closed and totally
// ordered; records only ever move forward through it.
type Status string

const (
	StatusAbsent    Status = "absent"
	StatusCheckedIn Status = "checked-in"
	StatusLearning  Status = "learning"
	StatusCompleted Status = "completed"
)

var statusOrder = map[Status]int{
	StatusAbsent:    0,
	StatusCheckedIn: 1,
	StatusLearning:  2,
	StatusCompleted: 3,
}

// ParseStatus validates a stored string against the closed set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statusOrder[st]; !ok {
		return "", fmt.Errorf("unknown attendance status %q", s)
	}
	return st, nil
}

// Valid reports whether the status belongs to the closed set.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Before reports whether s precedes other in the lifecycle order.
func (s Status) Before(other Status) bool {
	return statusOrder[s] < statusOrder[other]
}

// Next returns the following lifecycle state and whether one exists.
// Completed is terminal.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusAbsent:
		return StatusCheckedIn, true
	case StatusCheckedIn:
		return StatusLearning, true
	case StatusLearning:
		return StatusCompleted, true
	default:
		return s, false
	}
}

// Label is the display wording used in operator-facing messages.
func (s Status) Label() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusCheckedIn:
		return "checked in"
	case StatusLearning:
		return "in class"
	case StatusCompleted:
		return "checked out"
	default:
		return string(s)
	}
}
