package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/extract"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/notify"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/apierr"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/openai"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/repos"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/requestdata"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/types"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/utils"
)

const (
	defaultMaxFileSizeBytes = 25 * 1024 * 1024
	defaultMaxDocumentsPer  = 50

	defaultTopK           = 5
	maxTopK               = 50
	defaultScoreThreshold = 0.3
)

type UploadDocumentInput struct {
	FileName string
	MimeType string
	Data     []byte

	ContentLevel  string
	TargetPersona *string
	TeacherID     *uuid.UUID
	Tags          []string

	// AsSystemDefault uploads into the shared system namespace instead of the
	// caller's organization. Requires the platform operator role.
	AsSystemDefault bool
}

type ListDocumentsInput struct {
	IncludeSystemDefaults bool
	Status                string
	Page                  int
	Limit                 int
}

type ListDocumentsOutput struct {
	Documents  []*types.BrainDocument `json:"documents"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	TotalPages int                    `json:"total_pages"`
}

type QueryInput struct {
	Query          string
	TopK           int
	ScoreThreshold *float64
}

type QueryResultItem struct {
	ChunkID       uuid.UUID      `json:"chunk_id"`
	DocumentID    uuid.UUID      `json:"document_id"`
	DocumentTitle string         `json:"document_title"`
	ChunkIndex    int            `json:"chunk_index"`
	Content       string         `json:"content"`
	Score         float64        `json:"score"`
	Metadata      datatypes.JSON `json:"metadata,omitempty"`
}

type QueryOutput struct {
	Results             []QueryResultItem `json:"results"`
	TotalChunksSearched int64             `json:"total_chunks_searched"`
}

type DeleteDocumentOutput struct {
	Deleted       bool  `json:"deleted"`
	ChunksRemoved int64 `json:"chunks_removed"`
}

// BrainService is the tenant-facing API over the knowledge store: uploads,
// listing, status, deletion and similarity query. Ingestion itself runs in
// IngestService workers; UploadDocument only validates, persists the
// processing row and enqueues.
type BrainService interface {
	UploadDocument(ctx context.Context, in UploadDocumentInput) (*types.BrainDocument, error)
	ListDocuments(ctx context.Context, in ListDocumentsInput) (*ListDocumentsOutput, error)
	GetDocumentStatus(ctx context.Context, id uuid.UUID) (*types.BrainDocument, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) (*DeleteDocumentOutput, error)
	QueryBrain(ctx context.Context, in QueryInput) (*QueryOutput, error)
}

type brainService struct {
	db        *gorm.DB
	log       *logger.Logger
	docRepo   repos.BrainDocumentRepo
	chunkRepo repos.BrainChunkRepo
	ingest    IngestService
	ai        openai.Client
	bucket    BucketService
	events    notify.Publisher

	maxFileSizeBytes int64
	maxDocuments     int64
}

func NewBrainService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docRepo repos.BrainDocumentRepo,
	chunkRepo repos.BrainChunkRepo,
	ingest IngestService,
	ai openai.Client,
	bucket BucketService,
	events notify.Publisher,
) BrainService {
	log := baseLog.With("service", "BrainService")

	maxSize := utils.GetEnvAsInt64("BRAIN_MAX_FILE_SIZE_BYTES", defaultMaxFileSizeBytes, log)
	maxDocs := utils.GetEnvAsInt64("BRAIN_MAX_DOCUMENTS_PER_ORG", defaultMaxDocumentsPer, log)

	if events == nil {
		events = notify.NopPublisher{}
	}

	return &brainService{
		db:               db,
		log:              log,
		docRepo:          docRepo,
		chunkRepo:        chunkRepo,
		ingest:           ingest,
		ai:               ai,
		bucket:           bucket,
		events:           events,
		maxFileSizeBytes: maxSize,
		maxDocuments:     maxDocs,
	}
}

func (s *brainService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return fn(nil)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *brainService) callerScope(ctx context.Context) (*requestdata.RequestData, types.Scope, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, types.Scope{}, apierr.NotAuthorized(fmt.Errorf("missing caller identity"))
	}
	return rd, types.OrgScope(rd.OrganizationID), nil
}

func (s *brainService) UploadDocument(ctx context.Context, in UploadDocumentInput) (*types.BrainDocument, error) {
	rd, scope, err := s.callerScope(ctx)
	if err != nil {
		return nil, err
	}
	if in.AsSystemDefault {
		if !rd.IsPlatformOperator() {
			return nil, apierr.NotAuthorized(fmt.Errorf("system-default uploads require the platform operator role"))
		}
		scope = types.SystemScope()
	}

	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		return nil, apierr.UnsupportedType(fmt.Errorf("missing file name"))
	}

	// Validation order is part of the contract: type, then size, then the
	// per-namespace document limit, then duplicate filename.
	fileType := extract.FileTypeForMIME(in.MimeType)
	if fileType == "" {
		return nil, apierr.UnsupportedType(fmt.Errorf("unsupported file type %q; accepted: pdf, docx, txt", in.MimeType))
	}
	if int64(len(in.Data)) > s.maxFileSizeBytes {
		return nil, apierr.TooLarge(fmt.Errorf("file is %d bytes; limit is %d", len(in.Data), s.maxFileSizeBytes))
	}

	count, err := s.docRepo.CountByScope(ctx, nil, scope)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if count >= s.maxDocuments {
		return nil, apierr.LimitReached(fmt.Errorf("document limit of %d reached", s.maxDocuments))
	}

	exists, err := s.docRepo.ExistsByFileName(ctx, nil, scope, fileName)
	if err != nil {
		return nil, fmt.Errorf("check duplicate filename: %w", err)
	}
	if exists {
		return nil, apierr.DuplicateFilename(fmt.Errorf("a document named %q already exists", fileName))
	}

	contentLevel := strings.TrimSpace(in.ContentLevel)
	if contentLevel == "" {
		contentLevel = types.ContentLevelGeneral
	}

	var tags datatypes.JSON
	if len(in.Tags) > 0 {
		if raw, mErr := json.Marshal(in.Tags); mErr == nil {
			tags = datatypes.JSON(raw)
		}
	}

	doc := &types.BrainDocument{
		ID:             uuid.New(),
		OrganizationID: scope.OrganizationID(),
		Title:          titleFromFileName(fileName),
		FileName:       fileName,
		FileType:       fileType,
		SizeBytes:      int64(len(in.Data)),
		UploadedBy:     rd.UserID,
		ContentLevel:   contentLevel,
		TargetPersona:  in.TargetPersona,
		TeacherID:      in.TeacherID,
		Tags:           tags,
		Status:         types.DocumentStatusProcessing,
	}

	if s.bucket != nil {
		key := fmt.Sprintf("brain/%s/%s", scope.String(), doc.ID)
		if upErr := s.bucket.UploadFile(ctx, key, in.Data); upErr != nil {
			// Retention is best-effort; the pipeline works from the in-memory bytes.
			s.log.Warn("Raw file retention failed", "document_id", doc.ID, "error", upErr)
		} else {
			doc.StorageKey = key
		}
	}

	if _, err := s.docRepo.Create(ctx, nil, []*types.BrainDocument{doc}); err != nil {
		// The retained object would be unreachable without its row.
		if s.bucket != nil && doc.StorageKey != "" {
			if delErr := s.bucket.DeleteFile(ctx, doc.StorageKey); delErr != nil {
				s.log.Warn("Failed to delete retained file after insert failure", "document_id", doc.ID, "key", doc.StorageKey, "error", delErr)
			}
		}
		// The (organization_id, file_name) unique index backstops the
		// pre-check against concurrent uploads of the same name.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.DuplicateFilename(fmt.Errorf("a document named %q already exists", fileName))
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.log.Info("Document accepted",
		"document_id", doc.ID,
		"organization_id", scope.String(),
		"file_type", fileType,
		"size_bytes", doc.SizeBytes,
	)

	s.ingest.Enqueue(IngestJob{Document: doc, Data: in.Data})
	return doc, nil
}

func (s *brainService) ListDocuments(ctx context.Context, in ListDocumentsInput) (*ListDocumentsOutput, error) {
	_, scope, err := s.callerScope(ctx)
	if err != nil {
		return nil, err
	}

	page := in.Page
	if page < 1 {
		page = 1
	}
	limit := in.Limit
	if limit < 1 {
		limit = 20
	}

	docs, total, err := s.docRepo.List(ctx, nil, repos.ListDocumentsParams{
		Scope:                 scope,
		IncludeSystemDefaults: in.IncludeSystemDefaults,
		Status:                strings.TrimSpace(in.Status),
		Page:                  page,
		Limit:                 limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &ListDocumentsOutput{
		Documents:  docs,
		Total:      total,
		Page:       page,
		TotalPages: totalPages,
	}, nil
}

func (s *brainService) GetDocumentStatus(ctx context.Context, id uuid.UUID) (*types.BrainDocument, error) {
	_, scope, err := s.callerScope(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := s.docRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	// Cross-tenant ids read as absent, not forbidden. The operator role grants
	// no access here: it only covers the system-default namespace.
	if doc == nil || !scope.Contains(doc.OrganizationID) {
		return nil, apierr.NotFound(fmt.Errorf("document %s not found", id))
	}
	return doc, nil
}

func (s *brainService) DeleteDocument(ctx context.Context, id uuid.UUID) (*DeleteDocumentOutput, error) {
	rd, scope, err := s.callerScope(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := s.docRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return nil, apierr.NotFound(fmt.Errorf("document %s not found", id))
	}

	docScope := doc.Scope()
	if docScope.IsSystem() {
		// System defaults are visible to everyone, so removal is an explicit
		// authorization failure rather than a 404.
		if !rd.IsPlatformOperator() {
			return nil, apierr.NotAuthorized(fmt.Errorf("system-default documents require the platform operator role"))
		}
	} else if !scope.Contains(doc.OrganizationID) {
		// Tenant documents require an exact organization match; the operator
		// role does not reach into other tenants' namespaces.
		return nil, apierr.NotFound(fmt.Errorf("document %s not found", id))
	}

	// Stop in-flight ingestion before the rows disappear under it. Terminal
	// writes from a cancelled run are silent no-ops.
	s.ingest.Cancel(doc.ID)

	var chunksRemoved int64
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		n, dErr := s.chunkRepo.DeleteByDocumentID(ctx, tx, doc.ID)
		if dErr != nil {
			return fmt.Errorf("delete chunks: %w", dErr)
		}
		chunksRemoved = n
		if dErr := s.docRepo.DeleteByID(ctx, tx, doc.ID); dErr != nil {
			return fmt.Errorf("delete document: %w", dErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.bucket != nil && doc.StorageKey != "" {
		if delErr := s.bucket.DeleteFile(ctx, doc.StorageKey); delErr != nil {
			s.log.Warn("Failed to delete retained file", "document_id", doc.ID, "key", doc.StorageKey, "error", delErr)
		}
	}

	s.log.Info("Document deleted",
		"document_id", doc.ID,
		"organization_id", docScope.String(),
		"chunks_removed", chunksRemoved,
	)
	_ = s.events.Publish(ctx, notify.DocumentEvent{
		Type:           notify.EventDocumentDeleted,
		DocumentID:     doc.ID,
		OrganizationID: doc.OrganizationID,
		Status:         doc.Status,
	})

	return &DeleteDocumentOutput{Deleted: true, ChunksRemoved: chunksRemoved}, nil
}

func (s *brainService) QueryBrain(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	_, scope, err := s.callerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, apierr.EmptyQuery(fmt.Errorf("query must not be blank"))
	}

	topK := in.TopK
	if topK < 1 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	threshold := defaultScoreThreshold
	if in.ScoreThreshold != nil {
		threshold = *in.ScoreThreshold
	}

	embedding, err := s.ai.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedding) != types.EmbeddingDim {
		return nil, fmt.Errorf("query embedding has dim %d, want %d", len(embedding), types.EmbeddingDim)
	}

	hits, err := s.chunkRepo.SearchByEmbedding(ctx, nil, embedding, scope, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	searched, err := s.chunkRepo.CountSearchable(ctx, nil, scope)
	if err != nil {
		return nil, fmt.Errorf("count searchable chunks: %w", err)
	}

	titles, err := s.documentTitles(ctx, hits)
	if err != nil {
		return nil, err
	}

	results := make([]QueryResultItem, 0, len(hits))
	for _, h := range hits {
		results = append(results, QueryResultItem{
			ChunkID:       h.ChunkID,
			DocumentID:    h.BrainDocumentID,
			DocumentTitle: titles[h.BrainDocumentID],
			ChunkIndex:    h.Index,
			Content:       h.Text,
			Score:         h.Score,
			Metadata:      h.Metadata,
		})
	}

	return &QueryOutput{
		Results:             results,
		TotalChunksSearched: searched,
	}, nil
}

func (s *brainService) documentTitles(ctx context.Context, hits []repos.SearchResult) (map[uuid.UUID]string, error) {
	seen := map[uuid.UUID]bool{}
	ids := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		if !seen[h.BrainDocumentID] {
			seen[h.BrainDocumentID] = true
			ids = append(ids, h.BrainDocumentID)
		}
	}
	titles := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}
	docs, err := s.docRepo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("load result documents: %w", err)
	}
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	return titles, nil
}

// titleFromFileName derives a display title: extension stripped, filename
// separators become spaces, whitespace collapsed.
func titleFromFileName(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	title := strings.Join(strings.Fields(base), " ")
	if title == "" {
		return fileName
	}
	return title
}
