package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/types"
)

type ListDocumentsParams struct {
	Scope                 types.Scope
	IncludeSystemDefaults bool
	Status                string
	Page                  int
	Limit                 int
}

type BrainDocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, docs []*types.BrainDocument) ([]*types.BrainDocument, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BrainDocument, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.BrainDocument, error)
	List(ctx context.Context, tx *gorm.DB, p ListDocumentsParams) ([]*types.BrainDocument, int64, error)
	CountByScope(ctx context.Context, tx *gorm.DB, scope types.Scope) (int64, error)
	ExistsByFileName(ctx context.Context, tx *gorm.DB, scope types.Scope, fileName string) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type brainDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBrainDocumentRepo(db *gorm.DB, baseLog *logger.Logger) BrainDocumentRepo {
	repoLog := baseLog.With("repo", "BrainDocumentRepo")
	return &brainDocumentRepo{db: db, log: repoLog}
}

func (r *brainDocumentRepo) Create(ctx context.Context, tx *gorm.DB, docs []*types.BrainDocument) ([]*types.BrainDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(docs) == 0 {
		return []*types.BrainDocument{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *brainDocumentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BrainDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.BrainDocument
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (r *brainDocumentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.BrainDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.BrainDocument
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *brainDocumentRepo) List(ctx context.Context, tx *gorm.DB, p ListDocumentsParams) ([]*types.BrainDocument, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx).Model(&types.BrainDocument{})
	q = scopeQuery(q, p.Scope, p.IncludeSystemDefaults)
	if p.Status != "" {
		q = q.Where("status = ?", p.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := p.Page
	if page < 1 {
		page = 1
	}
	limit := p.Limit
	if limit < 1 {
		limit = 20
	}

	var results []*types.BrainDocument
	if err := q.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *brainDocumentRepo) CountByScope(ctx context.Context, tx *gorm.DB, scope types.Scope) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	q := transaction.WithContext(ctx).Model(&types.BrainDocument{})
	q = scopeQuery(q, scope, false)
	if err := q.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *brainDocumentRepo) ExistsByFileName(ctx context.Context, tx *gorm.DB, scope types.Scope, fileName string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	q := transaction.WithContext(ctx).Model(&types.BrainDocument{}).Where("file_name = ?", fileName)
	q = scopeQuery(q, scope, false)
	if err := q.Count(&total).Error; err != nil {
		return false, err
	}
	return total > 0, nil
}

func (r *brainDocumentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(fields) == 0 {
		return nil
	}
	// Silent no-op when the row is already gone (delete-during-ingestion).
	return transaction.WithContext(ctx).
		Model(&types.BrainDocument{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *brainDocumentRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.BrainDocument{}).Error
}

// scopeQuery narrows a query to the rows visible to scope. includeSystem adds
// the shared NULL-organization namespace to an org scope's own rows.
func scopeQuery(q *gorm.DB, scope types.Scope, includeSystem bool) *gorm.DB {
	if scope.IsSystem() {
		return q.Where("organization_id IS NULL")
	}
	if includeSystem {
		return q.Where("organization_id = ? OR organization_id IS NULL", scope.OrganizationID())
	}
	return q.Where("organization_id = ?", scope.OrganizationID())
}
