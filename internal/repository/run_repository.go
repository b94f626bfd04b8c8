package repository

import (
	"context"
	"time"

	"github.com/i-aayush/whatif/internal/models"
)

type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Run, error)
	// SetExternalID records the provider-side id and moves the run to processing.
	SetExternalID(ctx context.Context, id, externalID string) error
	// UpdateStatus sets a non-terminal status for user visibility.
	UpdateStatus(ctx context.Context, id string, status models.RunStatus) error
	// Finish transitions the run to a terminal status. The update is
	// conditional on the run not already being terminal; if another writer got
	// there first it returns pkgerrors.ErrRunAlreadyTerminal and writes nothing.
	Finish(ctx context.Context, id string, status models.RunStatus, outputRefs []string, runErr string) error
	// ListStale returns non-terminal runs created before the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Run, error)
}
