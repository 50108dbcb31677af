package common

import "fmt"

type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusRejected
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "Queued"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusRejected:
		return "Rejected"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s >= StatusCompleted
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for c := StatusQueued; c <= StatusCancelled; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}
