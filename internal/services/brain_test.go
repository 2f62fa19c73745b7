package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/notify"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/apierr"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/repos"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/requestdata"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/types"
)

// ------------------------
// In-memory fakes
// ------------------------

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.BrainDocument

	// existsAlwaysFalse simulates a concurrent upload winning the race between
	// the duplicate pre-check and the insert, leaving the unique index as the
	// only guard.
	existsAlwaysFalse bool
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: map[uuid.UUID]*types.BrainDocument{}}
}

func (r *fakeDocRepo) Create(_ context.Context, _ *gorm.DB, docs []*types.BrainDocument) ([]*types.BrainDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		for _, existing := range r.docs {
			if existing.FileName == d.FileName && sameOrg(existing.OrganizationID, d.OrganizationID) {
				return nil, gorm.ErrDuplicatedKey
			}
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now()
		}
		r.docs[d.ID] = d
	}
	return docs, nil
}

func (r *fakeDocRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.BrainDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDocRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.BrainDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.BrainDocument
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDocRepo) List(_ context.Context, _ *gorm.DB, p repos.ListDocumentsParams) ([]*types.BrainDocument, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*types.BrainDocument
	for _, d := range r.docs {
		if !visibleTo(p.Scope, p.IncludeSystemDefaults, d.OrganizationID) {
			continue
		}
		if p.Status != "" && d.Status != p.Status {
			continue
		}
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := (p.Page - 1) * p.Limit
	if start > len(all) {
		start = len(all)
	}
	end := start + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *fakeDocRepo) CountByScope(_ context.Context, _ *gorm.DB, scope types.Scope) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range r.docs {
		if visibleTo(scope, false, d.OrganizationID) {
			n++
		}
	}
	return n, nil
}

func (r *fakeDocRepo) ExistsByFileName(_ context.Context, _ *gorm.DB, scope types.Scope, fileName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsAlwaysFalse {
		return false, nil
	}
	for _, d := range r.docs {
		if d.FileName == fileName && visibleTo(scope, false, d.OrganizationID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeDocRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	if v, ok := fields["status"].(string); ok {
		d.Status = v
	}
	if v, ok := fields["error_message"].(string); ok {
		d.ErrorMessage = v
	}
	if v, ok := fields["chunk_count"].(int); ok {
		d.ChunkCount = v
	}
	return nil
}

func (r *fakeDocRepo) DeleteByID(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *fakeDocRepo) status(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		return d.Status
	}
	return ""
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks []*types.BrainChunk
}

func (r *fakeChunkRepo) Create(_ context.Context, _ *gorm.DB, chunks []*types.BrainChunk) ([]*types.BrainChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunks...)
	return chunks, nil
}

func (r *fakeChunkRepo) GetByDocumentID(_ context.Context, _ *gorm.DB, docID uuid.UUID) ([]*types.BrainChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.BrainChunk
	for _, c := range r.chunks {
		if c.BrainDocumentID == docID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r *fakeChunkRepo) DeleteByDocumentID(_ context.Context, _ *gorm.DB, docID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*types.BrainChunk
	var removed int64
	for _, c := range r.chunks {
		if c.BrainDocumentID == docID {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.chunks = kept
	return removed, nil
}

func (r *fakeChunkRepo) CountSearchable(_ context.Context, _ *gorm.DB, scope types.Scope) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.chunks {
		if visibleTo(scope, true, c.OrganizationID) {
			n++
		}
	}
	return n, nil
}

func (r *fakeChunkRepo) SearchByEmbedding(_ context.Context, _ *gorm.DB, query []float32, scope types.Scope, topK int, scoreThreshold float64) ([]repos.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hits []repos.SearchResult
	for _, c := range r.chunks {
		if !visibleTo(scope, true, c.OrganizationID) {
			continue
		}
		score := cosineSim(query, c.Embedding.Slice())
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, repos.SearchResult{
			ChunkID:         c.ID,
			BrainDocumentID: c.BrainDocumentID,
			Index:           c.Index,
			Text:            c.Text,
			Score:           score,
			Metadata:        c.Metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

type fakeAI struct {
	queryVec []float32
}

func (f *fakeAI) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = testVec(1)
	}
	return out, nil
}

func (f *fakeAI) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.queryVec != nil {
		return f.queryVec, nil
	}
	return testVec(1), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.DocumentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) UploadFile(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBucket) DeleteFile(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	return out
}

// ------------------------
// Helpers
// ------------------------

func sameOrg(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func visibleTo(scope types.Scope, includeSystem bool, orgID *uuid.UUID) bool {
	if scope.IsSystem() {
		return orgID == nil
	}
	if orgID == nil {
		return includeSystem
	}
	return *orgID == *scope.OrganizationID()
}

func cosineSim(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func testVec(vals ...float32) []float32 {
	v := make([]float32, types.EmbeddingDim)
	copy(v, vals)
	return v
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return log
}

func ctxFor(orgID uuid.UUID, role string) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		UserID:         uuid.New(),
		OrganizationID: orgID,
		Role:           role,
	})
}

type brainFixture struct {
	docs    *fakeDocRepo
	chunks  *fakeChunkRepo
	ai      *fakeAI
	events  *recordingPublisher
	ingest  IngestService
	service BrainService
}

func newBrainFixture(t *testing.T, startWorkers bool) *brainFixture {
	t.Helper()
	log := testLogger(t)
	docs := newFakeDocRepo()
	chunks := &fakeChunkRepo{}
	ai := &fakeAI{}
	events := &recordingPublisher{}

	ingest := NewIngestService(nil, log, docs, chunks, ai, events)
	if startWorkers {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		ingest.Start(ctx)
	}

	service := NewBrainService(nil, log, docs, chunks, ingest, ai, nil, events)
	return &brainFixture{
		docs:    docs,
		chunks:  chunks,
		ai:      ai,
		events:  events,
		ingest:  ingest,
		service: service,
	}
}

func (f *brainFixture) seedDoc(orgID *uuid.UUID, fileName, status string, chunkTexts ...string) *types.BrainDocument {
	doc := &types.BrainDocument{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Title:          strings.TrimSuffix(fileName, ".txt"),
		FileName:       fileName,
		FileType:       types.FileTypeTXT,
		SizeBytes:      100,
		UploadedBy:     uuid.New(),
		Status:         status,
		ChunkCount:     len(chunkTexts),
		CreatedAt:      time.Now(),
	}
	f.docs.docs[doc.ID] = doc
	for i, text := range chunkTexts {
		f.chunks.chunks = append(f.chunks.chunks, &types.BrainChunk{
			ID:              uuid.New(),
			BrainDocumentID: doc.ID,
			OrganizationID:  orgID,
			Index:           i,
			Text:            text,
			Embedding:       pgvector.NewVector(testVec(1)),
		})
	}
	return doc
}

func waitForStatus(t *testing.T, docs *fakeDocRepo, id uuid.UUID, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if docs.status(id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("document %s never reached status %q (last: %q)", id, want, docs.status(id))
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok, "expected api error, got %v", err)
	require.Equal(t, code, ae.Code)
}

const sampleText = "Residential listings rose sharply this quarter. " // 48 chars, repeated below

// ------------------------
// Upload validation
// ------------------------

func TestUploadDocumentValidationOrder(t *testing.T) {
	orgID := uuid.New()
	ctx := ctxFor(orgID, "member")

	t.Run("unsupported_type_wins_over_size", func(t *testing.T) {
		t.Setenv("BRAIN_MAX_FILE_SIZE_BYTES", "4")
		f := newBrainFixture(t, false)
		_, err := f.service.UploadDocument(ctx, UploadDocumentInput{
			FileName: "photo.png",
			MimeType: "image/png",
			Data:     []byte("larger than four bytes"),
		})
		requireCode(t, err, apierr.CodeUnsupportedType)
	})

	t.Run("too_large_wins_over_duplicate", func(t *testing.T) {
		t.Setenv("BRAIN_MAX_FILE_SIZE_BYTES", "4")
		f := newBrainFixture(t, false)
		f.seedDoc(&orgID, "notes.txt", types.DocumentStatusReady)
		_, err := f.service.UploadDocument(ctx, UploadDocumentInput{
			FileName: "notes.txt",
			MimeType: "text/plain",
			Data:     []byte("larger than four bytes"),
		})
		requireCode(t, err, apierr.CodeTooLarge)
	})

	t.Run("limit_reached", func(t *testing.T) {
		t.Setenv("BRAIN_MAX_DOCUMENTS_PER_ORG", "1")
		f := newBrainFixture(t, false)
		f.seedDoc(&orgID, "existing.txt", types.DocumentStatusReady)
		_, err := f.service.UploadDocument(ctx, UploadDocumentInput{
			FileName: "new.txt",
			MimeType: "text/plain",
			Data:     []byte(sampleText),
		})
		requireCode(t, err, apierr.CodeLimitReached)
	})

	t.Run("duplicate_filename", func(t *testing.T) {
		f := newBrainFixture(t, false)
		f.seedDoc(&orgID, "notes.txt", types.DocumentStatusReady)
		_, err := f.service.UploadDocument(ctx, UploadDocumentInput{
			FileName: "notes.txt",
			MimeType: "text/plain",
			Data:     []byte(sampleText),
		})
		requireCode(t, err, apierr.CodeDuplicateFilename)
	})

	t.Run("duplicate_in_other_org_is_fine", func(t *testing.T) {
		f := newBrainFixture(t, false)
		otherOrg := uuid.New()
		f.seedDoc(&otherOrg, "notes.txt", types.DocumentStatusReady)
		doc, err := f.service.UploadDocument(ctx, UploadDocumentInput{
			FileName: "notes.txt",
			MimeType: "text/plain",
			Data:     []byte(sampleText),
		})
		require.NoError(t, err)
		require.Equal(t, types.DocumentStatusProcessing, doc.Status)
	})

	t.Run("missing_identity", func(t *testing.T) {
		f := newBrainFixture(t, false)
		_, err := f.service.UploadDocument(context.Background(), UploadDocumentInput{
			FileName: "notes.txt",
			MimeType: "text/plain",
			Data:     []byte(sampleText),
		})
		requireCode(t, err, apierr.CodeNotAuthorized)
	})
}

func TestUploadDocumentTitleDerivation(t *testing.T) {
	cases := []struct {
		fileName string
		want     string
	}{
		{fileName: "annual_report-2024.final.pdf", want: "annual report 2024 final"},
		{fileName: "listing guide.txt", want: "listing guide"},
		{fileName: "a.docx", want: "a"},
	}
	for _, tc := range cases {
		if got := titleFromFileName(tc.fileName); got != tc.want {
			t.Fatalf("titleFromFileName(%q) = %q, want %q", tc.fileName, got, tc.want)
		}
	}
}

func TestUploadSystemDefaultRequiresOperator(t *testing.T) {
	orgID := uuid.New()
	f := newBrainFixture(t, false)

	_, err := f.service.UploadDocument(ctxFor(orgID, "member"), UploadDocumentInput{
		FileName:        "glossary.txt",
		MimeType:        "text/plain",
		Data:            []byte(sampleText),
		AsSystemDefault: true,
	})
	requireCode(t, err, apierr.CodeNotAuthorized)

	doc, err := f.service.UploadDocument(ctxFor(orgID, requestdata.RolePlatformOperator), UploadDocumentInput{
		FileName:        "glossary.txt",
		MimeType:        "text/plain",
		Data:            []byte(sampleText),
		AsSystemDefault: true,
	})
	require.NoError(t, err)
	require.Nil(t, doc.OrganizationID, "system uploads must store NULL organization_id")
}

func TestUploadCleansRetainedFileOnDuplicateRace(t *testing.T) {
	orgID := uuid.New()
	log := testLogger(t)
	docs := newFakeDocRepo()
	docs.existsAlwaysFalse = true
	chunks := &fakeChunkRepo{}
	ai := &fakeAI{}
	events := &recordingPublisher{}
	bucket := newFakeBucket()

	ingest := NewIngestService(nil, log, docs, chunks, ai, events)
	svc := NewBrainService(nil, log, docs, chunks, ingest, ai, bucket, events)

	existingID := uuid.New()
	docs.docs[existingID] = &types.BrainDocument{
		ID:             existingID,
		OrganizationID: &orgID,
		FileName:       "notes.txt",
		Status:         types.DocumentStatusReady,
		CreatedAt:      time.Now(),
	}

	_, err := svc.UploadDocument(ctxFor(orgID, "member"), UploadDocumentInput{
		FileName: "notes.txt",
		MimeType: "text/plain",
		Data:     []byte(sampleText),
	})
	requireCode(t, err, apierr.CodeDuplicateFilename)
	require.Empty(t, bucket.keys(), "insert failure must not leave the retained object behind")
}

// ------------------------
// Ingestion pipeline
// ------------------------

func TestIngestionSuccess(t *testing.T) {
	orgID := uuid.New()
	f := newBrainFixture(t, true)

	text := strings.Repeat(sampleText, 60) // ~2880 chars, several chunks
	doc, err := f.service.UploadDocument(ctxFor(orgID, "member"), UploadDocumentInput{
		FileName: "market.txt",
		MimeType: "text/plain",
		Data:     []byte(text),
	})
	require.NoError(t, err)
	require.Equal(t, types.DocumentStatusProcessing, doc.Status)

	waitForStatus(t, f.docs, doc.ID, types.DocumentStatusReady)

	stored, err := f.chunks.GetByDocumentID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	for i, c := range stored {
		require.Equal(t, i, c.Index, "chunk indices must be contiguous from 0")
		require.NotEmpty(t, c.Text)
		require.NotNil(t, c.OrganizationID)
		require.Equal(t, orgID, *c.OrganizationID)
	}

	final, err := f.docs.GetByID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Equal(t, len(stored), final.ChunkCount)
	require.Contains(t, f.events.eventTypes(), notify.EventDocumentReady)
}

func TestIngestionFailsOnUnreadableText(t *testing.T) {
	orgID := uuid.New()
	f := newBrainFixture(t, true)

	doc, err := f.service.UploadDocument(ctxFor(orgID, "member"), UploadDocumentInput{
		FileName: "tiny.txt",
		MimeType: "text/plain",
		Data:     []byte("hi"),
	})
	require.NoError(t, err)

	waitForStatus(t, f.docs, doc.ID, types.DocumentStatusFailed)

	final, err := f.docs.GetByID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Contains(t, final.ErrorMessage, "extract")
	require.Contains(t, f.events.eventTypes(), notify.EventDocumentFailed)

	stored, err := f.chunks.GetByDocumentID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Empty(t, stored, "failed documents must not leave chunks behind")
}

// ------------------------
// Status and listing
// ------------------------

func TestGetDocumentStatusVisibility(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	f := newBrainFixture(t, false)

	doc := f.seedDoc(&orgA, "a.txt", types.DocumentStatusReady)
	sysDoc := f.seedDoc(nil, "shared.txt", types.DocumentStatusReady)

	got, err := f.service.GetDocumentStatus(ctxFor(orgA, "member"), doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.ID, got.ID)

	_, err = f.service.GetDocumentStatus(ctxFor(orgB, "member"), doc.ID)
	requireCode(t, err, apierr.CodeNotFound)

	got, err = f.service.GetDocumentStatus(ctxFor(orgB, "member"), sysDoc.ID)
	require.NoError(t, err)
	require.Equal(t, sysDoc.ID, got.ID)

	_, err = f.service.GetDocumentStatus(ctxFor(orgA, "member"), uuid.New())
	requireCode(t, err, apierr.CodeNotFound)
}

func TestListDocuments(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	f := newBrainFixture(t, false)

	f.seedDoc(&orgA, "a1.txt", types.DocumentStatusReady)
	f.seedDoc(&orgA, "a2.txt", types.DocumentStatusFailed)
	f.seedDoc(&orgB, "b1.txt", types.DocumentStatusReady)
	f.seedDoc(nil, "sys.txt", types.DocumentStatusReady)

	out, err := f.service.ListDocuments(ctxFor(orgA, "member"), ListDocumentsInput{IncludeSystemDefaults: true})
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total, "own docs plus system defaults")
	require.Equal(t, 1, out.TotalPages)

	out, err = f.service.ListDocuments(ctxFor(orgA, "member"), ListDocumentsInput{})
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Total, "system defaults excluded on request")

	out, err = f.service.ListDocuments(ctxFor(orgA, "member"), ListDocumentsInput{
		IncludeSystemDefaults: true,
		Status:                types.DocumentStatusFailed,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Total)
	require.Equal(t, "a2.txt", out.Documents[0].FileName)

	out, err = f.service.ListDocuments(ctxFor(orgA, "member"), ListDocumentsInput{
		IncludeSystemDefaults: true,
		Page:                  2,
		Limit:                 2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total)
	require.Len(t, out.Documents, 1)
	require.Equal(t, 2, out.TotalPages)
}

// ------------------------
// Deletion
// ------------------------

func TestDeleteDocumentRemovesChunks(t *testing.T) {
	orgID := uuid.New()
	f := newBrainFixture(t, false)

	doc := f.seedDoc(&orgID, "a.txt", types.DocumentStatusReady, "one", "two", "three")

	out, err := f.service.DeleteDocument(ctxFor(orgID, "member"), doc.ID)
	require.NoError(t, err)
	require.True(t, out.Deleted)
	require.Equal(t, int64(3), out.ChunksRemoved)

	gone, err := f.docs.GetByID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	left, err := f.chunks.GetByDocumentID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Empty(t, left)
	require.Contains(t, f.events.eventTypes(), notify.EventDocumentDeleted)
}

func TestDeleteDocumentAuthorization(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	f := newBrainFixture(t, false)

	orgDoc := f.seedDoc(&orgA, "a.txt", types.DocumentStatusReady, "c")
	sysDoc := f.seedDoc(nil, "shared.txt", types.DocumentStatusReady, "s")

	// Another tenant's document reads as absent.
	_, err := f.service.DeleteDocument(ctxFor(orgB, "member"), orgDoc.ID)
	requireCode(t, err, apierr.CodeNotFound)

	// System defaults are visible but protected.
	_, err = f.service.DeleteDocument(ctxFor(orgA, "member"), sysDoc.ID)
	requireCode(t, err, apierr.CodeNotAuthorized)

	out, err := f.service.DeleteDocument(ctxFor(orgA, requestdata.RolePlatformOperator), sysDoc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), out.ChunksRemoved)

	_, err = f.service.DeleteDocument(ctxFor(orgA, "member"), uuid.New())
	requireCode(t, err, apierr.CodeNotFound)
}

func TestOperatorCannotReachOtherTenants(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	f := newBrainFixture(t, false)

	docB := f.seedDoc(&orgB, "b.txt", types.DocumentStatusReady, "c")
	op := ctxFor(orgA, requestdata.RolePlatformOperator)

	// The elevated role covers the system namespace only; tenant documents
	// still require an exact organization match.
	_, err := f.service.GetDocumentStatus(op, docB.ID)
	requireCode(t, err, apierr.CodeNotFound)

	_, err = f.service.DeleteDocument(op, docB.ID)
	requireCode(t, err, apierr.CodeNotFound)

	still, err := f.docs.GetByID(context.Background(), nil, docB.ID)
	require.NoError(t, err)
	require.NotNil(t, still)

	sysDoc := f.seedDoc(nil, "shared.txt", types.DocumentStatusReady)
	got, err := f.service.GetDocumentStatus(op, sysDoc.ID)
	require.NoError(t, err)
	require.Equal(t, sysDoc.ID, got.ID)
}

func TestDeleteDocumentWhileQueued(t *testing.T) {
	t.Setenv("BRAIN_INGEST_WORKERS", "1")
	orgID := uuid.New()
	f := newBrainFixture(t, false)
	ctx := ctxFor(orgID, "member")

	text := strings.Repeat(sampleText, 60)
	doc, err := f.service.UploadDocument(ctx, UploadDocumentInput{
		FileName: "queued.txt",
		MimeType: "text/plain",
		Data:     []byte(text),
	})
	require.NoError(t, err)

	// No worker has picked the job up yet; the delete must still reach it.
	out, err := f.service.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, out.Deleted)
	require.Equal(t, int64(0), out.ChunksRemoved)

	sentinel, err := f.service.UploadDocument(ctx, UploadDocumentInput{
		FileName: "sentinel.txt",
		MimeType: "text/plain",
		Data:     []byte(text),
	})
	require.NoError(t, err)

	poolCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.ingest.Start(poolCtx)

	// The single worker drains the cancelled job before the sentinel, so once
	// the sentinel is ready the deleted job has fully run its course.
	waitForStatus(t, f.docs, sentinel.ID, types.DocumentStatusReady)

	orphans, err := f.chunks.GetByDocumentID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Empty(t, orphans, "a deleted document must never regain chunks")

	gone, err := f.docs.GetByID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	// Cancelled-by-delete is silent: no failed status event for the deleted doc.
	require.NotContains(t, f.events.eventTypes(), notify.EventDocumentFailed)
}

// ------------------------
// Query
// ------------------------

func TestQueryBrainScopingAndOrdering(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	f := newBrainFixture(t, false)

	docA := f.seedDoc(&orgA, "a.txt", types.DocumentStatusReady)
	docB := f.seedDoc(&orgB, "b.txt", types.DocumentStatusReady)
	docSys := f.seedDoc(nil, "shared.txt", types.DocumentStatusReady)

	// Aligned, diagonal and orthogonal directions relative to the query.
	addChunk := func(doc *types.BrainDocument, idx int, text string, vec []float32) {
		f.chunks.chunks = append(f.chunks.chunks, &types.BrainChunk{
			ID:              uuid.New(),
			BrainDocumentID: doc.ID,
			OrganizationID:  doc.OrganizationID,
			Index:           idx,
			Text:            text,
			Embedding:       pgvector.NewVector(vec),
		})
	}
	addChunk(docA, 0, "exact match", testVec(1, 0))
	addChunk(docA, 1, "partial match", testVec(1, 1))
	addChunk(docA, 2, "orthogonal", testVec(0, 1))
	addChunk(docSys, 0, "system match", testVec(1, 0.2))
	addChunk(docB, 0, "other tenant exact", testVec(1, 0))

	f.ai.queryVec = testVec(1, 0)

	out, err := f.service.QueryBrain(ctxFor(orgA, "member"), QueryInput{Query: "exact"})
	require.NoError(t, err)

	// org B's chunk is invisible; the orthogonal chunk scores below threshold.
	require.Len(t, out.Results, 3)
	require.Equal(t, "exact match", out.Results[0].Content)
	require.Equal(t, docA.Title, out.Results[0].DocumentTitle)
	for i := 1; i < len(out.Results); i++ {
		require.LessOrEqual(t, out.Results[i].Score, out.Results[i-1].Score, "results must be sorted by descending score")
	}
	for _, res := range out.Results {
		require.GreaterOrEqual(t, res.Score, defaultScoreThreshold)
		require.NotEqual(t, docB.ID, res.DocumentID, "other tenants' chunks must never surface")
	}
	require.Equal(t, int64(4), out.TotalChunksSearched, "org A chunks plus system chunks")
}

func TestQueryBrainTopKAndThreshold(t *testing.T) {
	orgA := uuid.New()
	f := newBrainFixture(t, false)
	doc := f.seedDoc(&orgA, "a.txt", types.DocumentStatusReady)

	for i := 0; i < 10; i++ {
		f.chunks.chunks = append(f.chunks.chunks, &types.BrainChunk{
			ID:              uuid.New(),
			BrainDocumentID: doc.ID,
			OrganizationID:  doc.OrganizationID,
			Index:           i,
			Text:            "chunk",
			Embedding:       pgvector.NewVector(testVec(1)),
		})
	}
	f.ai.queryVec = testVec(1)

	out, err := f.service.QueryBrain(ctxFor(orgA, "member"), QueryInput{Query: "q"})
	require.NoError(t, err)
	require.Len(t, out.Results, defaultTopK, "default top_k")

	out, err = f.service.QueryBrain(ctxFor(orgA, "member"), QueryInput{Query: "q", TopK: 7})
	require.NoError(t, err)
	require.Len(t, out.Results, 7)

	strict := 1.1
	out, err = f.service.QueryBrain(ctxFor(orgA, "member"), QueryInput{Query: "q", ScoreThreshold: &strict})
	require.NoError(t, err)
	require.Empty(t, out.Results, "threshold above max similarity yields nothing")
	require.Equal(t, int64(10), out.TotalChunksSearched)
}

func TestQueryBrainRejectsBlankQuery(t *testing.T) {
	orgA := uuid.New()
	f := newBrainFixture(t, false)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := f.service.QueryBrain(ctxFor(orgA, "member"), QueryInput{Query: q})
		requireCode(t, err, apierr.CodeEmptyQuery)
	}
}
