package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// EmbeddingDim is the fixed dimensionality of chunk and query vectors.
// It must match the vector(...) column type and the embedding model output.
const EmbeddingDim = 1536

type BrainChunk struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	BrainDocumentID uuid.UUID      `gorm:"type:uuid;not null;index" json:"brain_document_id"`
	BrainDocument   *BrainDocument `gorm:"constraint:OnDelete:CASCADE;foreignKey:BrainDocumentID;references:ID" json:"brain_document,omitempty"`

	// Denormalized from the owning document so search never needs a join.
	OrganizationID *uuid.UUID `gorm:"type:uuid;index" json:"organization_id,omitempty"`

	Index     int             `gorm:"column:index;not null" json:"index"`
	Text      string          `gorm:"column:text;type:text;not null" json:"text"`
	Embedding pgvector.Vector `gorm:"type:vector(1536);column:embedding" json:"-"`
	Metadata  datatypes.JSON  `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (BrainChunk) TableName() string {
	return "brain_chunk"
}

// ChunkMetadata is the jsonb payload stored on each chunk. Offsets are
// best-effort (recovered by anchor search, see chunker); page is a
// chars-per-page estimate, not a parser-reported page.
type ChunkMetadata struct {
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
	Page      int `json:"page"`
}
