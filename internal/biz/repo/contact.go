package repo

import (
	"context"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
)

// ContactAPI is the request/response collaborator owning the system of record
type ContactAPI interface {
	// ListContacts fetches the full contact list of a line
	ListContacts(ctx context.Context, lineID string) ([]*domain.Contact, error)

	// GetLine fetches line metadata
	GetLine(ctx context.Context, lineID string) (*domain.Line, error)

	// UpdateContact submits a field subset
	UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error

	// SendMessage delivers an outbound message (text or template)
	SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.Message, error)
}

// SnapshotRepo persists the working set for warm starts
type SnapshotRepo interface {
	// Save replaces the stored snapshot of a line
	Save(ctx context.Context, lineID string, contacts []*domain.Contact) error

	// Load returns the stored snapshot, empty when none exists
	Load(ctx context.Context, lineID string) ([]*domain.Contact, error)

	// Lines lists the lines that have a snapshot
	Lines(ctx context.Context) ([]SnapshotInfo, error)

	Close() error
}

// SnapshotInfo describes one stored snapshot
type SnapshotInfo struct {
	LineID   string
	Contacts int
	SavedAt  string
}
