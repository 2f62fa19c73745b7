package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/chunker"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/extract"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/notify"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/openai"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/repos"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/types"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/utils"
)

// minReadableRunes is the extraction floor: anything shorter is treated as an
// empty or unreadable document and fails ingestion.
const minReadableRunes = 10

// IngestJob carries one queued document plus its raw bytes through the
// extract -> chunk -> embed -> store pipeline.
type IngestJob struct {
	Document *types.BrainDocument
	Data     []byte
}

type IngestService interface {
	// Start launches the worker pool. Workers drain the queue until ctx is
	// cancelled.
	Start(ctx context.Context)
	// Enqueue hands a document to the pipeline. It never blocks the caller:
	// when the queue is full the document is failed immediately.
	Enqueue(job IngestJob)
	// Cancel aborts processing for a document, whether it is still waiting in
	// the queue or already running. Returns true when a job was signalled.
	Cancel(docID uuid.UUID) bool
}

// queuedJob binds an IngestJob to the per-document context created at Enqueue
// time, so Cancel reaches jobs no worker has picked up yet.
type queuedJob struct {
	IngestJob
	ctx    context.Context
	cancel context.CancelFunc
}

type ingestService struct {
	db        *gorm.DB
	log       *logger.Logger
	docRepo   repos.BrainDocumentRepo
	chunkRepo repos.BrainChunkRepo
	ai        openai.Client
	events    notify.Publisher

	workers          int
	embedBatchSize   int
	embedConcurrency int
	chunkOpts        chunker.Options

	jobs chan queuedJob

	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelFunc
}

func NewIngestService(
	db *gorm.DB,
	baseLog *logger.Logger,
	docRepo repos.BrainDocumentRepo,
	chunkRepo repos.BrainChunkRepo,
	ai openai.Client,
	events notify.Publisher,
) IngestService {
	log := baseLog.With("service", "IngestService")

	workers := utils.GetEnvAsInt("BRAIN_INGEST_WORKERS", 4, log)
	if workers < 1 {
		workers = 1
	}
	batchSize := utils.GetEnvAsInt("BRAIN_EMBED_BATCH_SIZE", 128, log)
	if batchSize < 1 {
		batchSize = 128
	}
	concurrency := utils.GetEnvAsInt("BRAIN_EMBED_CONCURRENCY", 4, log)
	if concurrency < 1 {
		concurrency = 1
	}

	chunkOpts := chunker.DefaultOptions()
	chunkOpts.ChunkSize = utils.GetEnvAsInt("BRAIN_CHUNK_SIZE", chunker.DefaultChunkSize, log)
	chunkOpts.ChunkOverlap = utils.GetEnvAsInt("BRAIN_CHUNK_OVERLAP", chunker.DefaultChunkOverlap, log)

	if events == nil {
		events = notify.NopPublisher{}
	}

	return &ingestService{
		db:               db,
		log:              log,
		docRepo:          docRepo,
		chunkRepo:        chunkRepo,
		ai:               ai,
		events:           events,
		workers:          workers,
		embedBatchSize:   batchSize,
		embedConcurrency: concurrency,
		chunkOpts:        chunkOpts,
		jobs:             make(chan queuedJob, workers*4),
		inflight:         map[uuid.UUID]context.CancelFunc{},
	}
}

func (s *ingestService) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		go func(worker int) {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-s.jobs:
					s.process(ctx, job)
				}
			}
		}(i)
	}
	s.log.Info("Ingestion workers started", "workers", s.workers)
}

func (s *ingestService) Enqueue(job IngestJob) {
	if job.Document == nil {
		return
	}
	docID := job.Document.ID

	// The cancel handle is registered before the job enters the queue, so a
	// delete that lands while the job is still waiting aborts it too.
	docCtx, cancel := context.WithCancel(context.Background())
	s.register(docID, cancel)

	select {
	case s.jobs <- queuedJob{IngestJob: job, ctx: docCtx, cancel: cancel}:
	default:
		// Queue saturated. Fail fast rather than block the upload request.
		s.deregister(docID)
		cancel()
		s.log.Warn("Ingestion queue full; failing document", "document_id", docID)
		_ = s.docRepo.UpdateFields(context.Background(), nil, docID, map[string]any{
			"status":        types.DocumentStatusFailed,
			"error_message": "ingestion queue full",
		})
	}
}

func (s *ingestService) Cancel(docID uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[docID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *ingestService) register(docID uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	s.inflight[docID] = cancel
	s.mu.Unlock()
}

func (s *ingestService) deregister(docID uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, docID)
	s.mu.Unlock()
}

func (s *ingestService) process(ctx context.Context, job queuedJob) {
	doc := job.Document
	docID := doc.ID

	docCtx := job.ctx
	defer func() {
		s.deregister(docID)
		job.cancel()
	}()

	// Deleted while waiting in the queue.
	if docCtx.Err() != nil {
		return
	}

	// Pool shutdown must also stop the per-document context.
	stop := context.AfterFunc(ctx, job.cancel)
	defer stop()

	// Terminal writes use the pool context, not docCtx: a cancelled document
	// must not leave a half-written status behind, and a deleted row makes
	// UpdateFields a silent no-op anyway.
	fail := func(stage string, err error) {
		if docCtx.Err() != nil && ctx.Err() == nil {
			// Cancelled via delete: the row is gone, nothing to record.
			return
		}
		msg := fmt.Sprintf("%s: %v", stage, err)
		s.log.Warn("Ingestion failed",
			"document_id", docID,
			"stage", stage,
			"error", err.Error(),
		)
		_ = s.docRepo.UpdateFields(ctx, nil, docID, map[string]any{
			"status":        types.DocumentStatusFailed,
			"error_message": msg,
		})
		_ = s.events.Publish(ctx, notify.DocumentEvent{
			Type:           notify.EventDocumentFailed,
			DocumentID:     docID,
			OrganizationID: doc.OrganizationID,
			Status:         types.DocumentStatusFailed,
			ErrorMessage:   msg,
		})
	}

	defer func() {
		if r := recover(); r != nil {
			fail("panic", fmt.Errorf("%v", r))
		}
	}()

	text, err := extract.Text(doc.FileName, doc.FileType, job.Data)
	if err != nil {
		fail("extract", err)
		return
	}
	if len([]rune(strings.TrimSpace(text))) < minReadableRunes {
		fail("extract", fmt.Errorf("document contains no readable text"))
		return
	}
	if docCtx.Err() != nil {
		return
	}

	pieces := chunker.Split(text, s.chunkOpts)
	if len(pieces) == 0 {
		fail("chunk", fmt.Errorf("no chunks produced from extracted text"))
		return
	}

	embeddings, err := s.embedAll(docCtx, pieces)
	if err != nil {
		if docCtx.Err() != nil {
			fail("embed", docCtx.Err())
			return
		}
		fail("embed", err)
		return
	}

	chunks := make([]*types.BrainChunk, 0, len(pieces))
	for i, piece := range pieces {
		meta, mErr := json.Marshal(types.ChunkMetadata{
			StartChar: piece.StartChar,
			EndChar:   piece.EndChar,
			Page:      piece.EstimatedPage,
		})
		if mErr != nil {
			meta = []byte(`{}`)
		}
		chunks = append(chunks, &types.BrainChunk{
			ID:              uuid.New(),
			BrainDocumentID: docID,
			OrganizationID:  doc.OrganizationID,
			Index:           i,
			Text:            piece.Content,
			Embedding:       embeddings[i],
			Metadata:        datatypes.JSON(meta),
		})
	}

	if docCtx.Err() != nil {
		return
	}
	// A deleted document must never regain chunks; re-check the row right
	// before the insert to close the create/enqueue race with deletion.
	current, err := s.docRepo.GetByID(docCtx, nil, docID)
	if err != nil {
		fail("store", err)
		return
	}
	if current == nil {
		return
	}
	if _, err := s.chunkRepo.Create(docCtx, nil, chunks); err != nil {
		fail("store", err)
		return
	}

	if err := s.docRepo.UpdateFields(ctx, nil, docID, map[string]any{
		"status":      types.DocumentStatusReady,
		"chunk_count": len(chunks),
	}); err != nil {
		s.log.Warn("Failed to mark document ready", "document_id", docID, "error", err)
		return
	}

	s.log.Info("Document ingested",
		"document_id", docID,
		"chunks", len(chunks),
	)
	_ = s.events.Publish(ctx, notify.DocumentEvent{
		Type:           notify.EventDocumentReady,
		DocumentID:     docID,
		OrganizationID: doc.OrganizationID,
		Status:         types.DocumentStatusReady,
		ChunkCount:     len(chunks),
	})
}

// embedAll embeds chunk contents in order-preserving batches with bounded
// concurrency. Any batch failure aborts the whole document.
func (s *ingestService) embedAll(ctx context.Context, pieces []chunker.Chunk) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.embedConcurrency)

	for start := 0; start < len(pieces); start += s.embedBatchSize {
		start := start
		end := start + s.embedBatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			inputs := make([]string, 0, end-start)
			for _, p := range pieces[start:end] {
				inputs = append(inputs, p.Content)
			}
			vecs, err := s.ai.Embed(gctx, inputs)
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch [%d:%d]: got %d vectors", start, end, len(vecs))
			}
			for i, v := range vecs {
				if len(v) != types.EmbeddingDim {
					return fmt.Errorf("embed batch [%d:%d]: vector %d has dim %d, want %d", start, end, i, len(v), types.EmbeddingDim)
				}
				out[start+i] = pgvector.NewVector(v)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
