package repository

import (
	"github.com/google/uuid"

	"github.com/NamanBalaji/duld/internal/common"
)

// Repository stores the job history.
type Repository interface {
	Save(job *common.Job) error
	Find(id uuid.UUID) (*common.Job, error)
	FindAll() ([]*common.Job, error)
	Delete(id uuid.UUID) error
	Close() error
}
