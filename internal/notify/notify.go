package notify

import (
	"context"

	"github.com/google/uuid"
)

// DocumentEvent announces a brain document lifecycle transition. Subscribers
// (admin dashboards, cache invalidators) get one event per terminal state and
// one per delete.
type DocumentEvent struct {
	Type           string     `json:"type"` // "document.ready" | "document.failed" | "document.deleted"
	DocumentID     uuid.UUID  `json:"document_id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ChunkCount     int        `json:"chunk_count,omitempty"`
}

const (
	EventDocumentReady   = "document.ready"
	EventDocumentFailed  = "document.failed"
	EventDocumentDeleted = "document.deleted"
)

// Publisher fans document events out to interested consumers. Publishing is
// best-effort; failures never affect the document's stored state.
type Publisher interface {
	Publish(ctx context.Context, ev DocumentEvent) error
	Close() error
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DocumentEvent) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
