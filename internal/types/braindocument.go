package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Document lifecycle. Terminal states are ready and failed; there is no
// transition back to processing (a failed document is deleted and re-uploaded).
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

const (
	FileTypePDF  = "pdf"
	FileTypeDOCX = "docx"
	FileTypeTXT  = "txt"
)

const ContentLevelGeneral = "general"

type BrainDocument struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	// NULL organization_id = system-default namespace, readable by every tenant.
	OrganizationID *uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_brain_document_org_file" json:"organization_id,omitempty"`

	Title    string `gorm:"column:title;not null" json:"title"`
	FileName string `gorm:"column:file_name;not null;uniqueIndex:idx_brain_document_org_file" json:"file_name"`
	FileType string `gorm:"column:file_type;not null" json:"file_type"`

	SizeBytes  int64     `gorm:"column:size_bytes;not null" json:"size_bytes"`
	UploadedBy uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by"`

	ContentLevel  string         `gorm:"column:content_level;default:general" json:"content_level"`
	TargetPersona *string        `gorm:"column:target_persona" json:"target_persona,omitempty"`
	TeacherID     *uuid.UUID     `gorm:"type:uuid;column:teacher_id" json:"teacher_id,omitempty"`
	Tags          datatypes.JSON `gorm:"type:jsonb;column:tags" json:"tags,omitempty"`

	Status       string `gorm:"column:status;not null;default:processing;index" json:"status"`
	ChunkCount   int    `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	ErrorMessage string `gorm:"column:error_message" json:"error_message,omitempty"`

	// Set when raw-byte retention to object storage is enabled.
	StorageKey string `gorm:"column:storage_key" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (BrainDocument) TableName() string {
	return "brain_document"
}

func (d *BrainDocument) Scope() Scope {
	return ScopeOf(d.OrganizationID)
}
