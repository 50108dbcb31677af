package common

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the source that produced a job.
type Kind string

const (
	KindTorrent Kind = "torrent"
	KindHah     Kind = "hah"
	KindLink    Kind = "link"
)

// Job is the persisted record of one top-level upload.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	Token       string    `json:"token"`
	Destination string    `json:"destination"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartTime   time.Time `json:"start_time,omitzero"`
	EndTime     time.Time `json:"end_time,omitzero"`
}

// Duration is how long the job ran, or has been running so far.
func (j *Job) Duration() time.Duration {
	switch {
	case j.StartTime.IsZero():
		return 0
	case j.EndTime.IsZero():
		return time.Since(j.StartTime)
	default:
		return j.EndTime.Sub(j.StartTime)
	}
}
