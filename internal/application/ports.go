package application

import (
	"context"

	"cachet/pkg/domain"
)

// Store persists applications. Update performs a compare-and-swap on the
// version column and returns sentinel.ErrConflict when the stored version no
// longer matches expectedVersion.
type Store interface {
	Create(ctx context.Context, app Application) error
	Get(ctx context.Context, id domain.ApplicationID) (Application, error)
	Update(ctx context.Context, app Application, expectedVersion int64) error
}

// ApplicantStore resolves applicant records created by the upstream intake
// surface.
type ApplicantStore interface {
	CreateApplicant(ctx context.Context, a Applicant) error
	GetApplicant(ctx context.Context, id domain.ApplicantID) (Applicant, error)
}
