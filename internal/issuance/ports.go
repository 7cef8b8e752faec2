package issuance

import (
	"context"
	"errors"
	"time"

	"cachet/pkg/domain"
)

// Storage-level uniqueness outcomes. The two constraints need different
// reactions: a duplicate application means someone already issued (return
// their document), a duplicate code just means draw again.
var (
	ErrDuplicateApplication = errors.New("document already exists for application")
	ErrDuplicateCode        = errors.New("verification code already taken")
)

// Store persists issued documents. Rows are never deleted; Revoke is the
// only permitted mutation.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id domain.DocumentID) (Document, error)
	GetByApplication(ctx context.Context, applicationID domain.ApplicationID) (Document, error)
	GetByCode(ctx context.Context, code string) (Document, error)
	Revoke(ctx context.Context, id domain.DocumentID, at time.Time, reason string) error
}

// Publisher hands the issuance event to the notification collaborator.
type Publisher interface {
	PublishIssued(ctx context.Context, event IssuedEvent) error
}
