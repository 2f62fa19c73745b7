package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/types"
)

// SearchResult is one similarity hit. Score is cosine similarity in [0, 1]
// for non-degenerate vectors (1 - cosine distance).
type SearchResult struct {
	ChunkID         uuid.UUID      `gorm:"column:chunk_id"`
	BrainDocumentID uuid.UUID      `gorm:"column:brain_document_id"`
	Index           int            `gorm:"column:index"`
	Text            string         `gorm:"column:text"`
	Score           float64        `gorm:"column:score"`
	Metadata        datatypes.JSON `gorm:"column:metadata"`
}

type BrainChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.BrainChunk) ([]*types.BrainChunk, error)
	GetByDocumentID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) ([]*types.BrainChunk, error)
	DeleteByDocumentID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) (int64, error)
	CountSearchable(ctx context.Context, tx *gorm.DB, scope types.Scope) (int64, error)
	SearchByEmbedding(ctx context.Context, tx *gorm.DB, query []float32, scope types.Scope, topK int, scoreThreshold float64) ([]SearchResult, error)
}

type brainChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBrainChunkRepo(db *gorm.DB, baseLog *logger.Logger) BrainChunkRepo {
	repoLog := baseLog.With("repo", "BrainChunkRepo")
	return &brainChunkRepo{db: db, log: repoLog}
}

func (r *brainChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.BrainChunk) ([]*types.BrainChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.BrainChunk{}, nil
	}

	// Keep batches small: text plus a 1536-dim vector per row.
	const batchSize = 50

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *brainChunkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) ([]*types.BrainChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.BrainChunk
	if err := transaction.WithContext(ctx).
		Where("brain_document_id = ?", docID).
		Order("index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *brainChunkRepo) DeleteByDocumentID(ctx context.Context, tx *gorm.DB, docID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("brain_document_id = ?", docID).
		Delete(&types.BrainChunk{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *brainChunkRepo) CountSearchable(ctx context.Context, tx *gorm.DB, scope types.Scope) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	q := transaction.WithContext(ctx).Model(&types.BrainChunk{})
	q = scopeQuery(q, scope, true)
	if err := q.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *brainChunkRepo) SearchByEmbedding(ctx context.Context, tx *gorm.DB, query []float32, scope types.Scope, topK int, scoreThreshold float64) ([]SearchResult, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if topK < 1 {
		topK = 5
	}

	vec := pgvector.NewVector(query)

	scopeCond := "(organization_id = ? OR organization_id IS NULL)"
	scopeArgs := []any{scope.OrganizationID()}
	if scope.IsSystem() {
		scopeCond = "organization_id IS NULL"
		scopeArgs = nil
	}

	args := make([]any, 0, 6)
	args = append(args, vec)
	args = append(args, scopeArgs...)
	args = append(args, vec, scoreThreshold, vec, topK)

	var results []SearchResult
	if err := transaction.WithContext(ctx).Raw(`
		SELECT id AS chunk_id,
		       brain_document_id,
		       index,
		       text,
		       metadata,
		       1 - (embedding <=> ?) AS score
		FROM brain_chunk
		WHERE `+scopeCond+`
		  AND 1 - (embedding <=> ?) >= ?
		ORDER BY embedding <=> ?
		LIMIT ?`, args...).
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
