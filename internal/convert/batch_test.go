package convert

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperbase/paperbase/internal/storage"
)

func newTestDB(t *testing.T) (*sql.DB, *storage.Repositories) {
	t.Helper()
	db, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, storage.NewRepositories(db)
}

func seedKB(t *testing.T, repos *storage.Repositories, name, dir string) *storage.KnowledgeBase {
	t.Helper()
	kb := &storage.KnowledgeBase{Name: name, Directory: dir}
	require.NoError(t, repos.KnowledgeBases.Create(context.Background(), kb))
	return kb
}

func seedScannedDoc(t *testing.T, repos *storage.Repositories, kb *storage.KnowledgeBase, filename string) *storage.Document {
	t.Helper()
	doc := &storage.Document{
		KBID:             kb.ID,
		OriginalFilename: filename,
		OriginalPath:     filepath.Join(kb.Directory, filename),
		IsScanned:        true,
	}
	require.NoError(t, repos.Documents.Create(context.Background(), doc))
	return doc
}

// conversionUpdate records one UpdateConversion call for assertions.
type conversionUpdate struct {
	docID    int64
	status   storage.ConversionStatus
	progress *float64
}

// recordingStore wraps the real document repository and logs every
// conversion update it passes through.
type recordingStore struct {
	*storage.DocumentRepository

	mu      sync.Mutex
	updates []conversionUpdate
}

func (s *recordingStore) UpdateConversion(ctx context.Context, docID int64, status storage.ConversionStatus, progress *float64, convertedPath *string, pageCount *int) error {
	s.mu.Lock()
	var p *float64
	if progress != nil {
		v := *progress
		p = &v
	}
	s.updates = append(s.updates, conversionUpdate{docID: docID, status: status, progress: p})
	s.mu.Unlock()
	return s.DocumentRepository.UpdateConversion(ctx, docID, status, progress, convertedPath, pageCount)
}

func (s *recordingStore) updatesFor(docID int64) []conversionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversionUpdate
	for _, u := range s.updates {
		if u.docID == docID {
			out = append(out, u)
		}
	}
	return out
}

func TestBatchTask_OneFailureDoesNotStopTheBatch(t *testing.T) {
	_, repos := newTestDB(t)
	kb := seedKB(t, repos, "manuals", t.TempDir())
	doc1 := seedScannedDoc(t, repos, kb, "a.pdf")
	doc2 := seedScannedDoc(t, repos, kb, "b.pdf")
	doc3 := seedScannedDoc(t, repos, kb, "c.pdf")

	attempt := 0
	newConv := func() PageConverter {
		attempt++
		if attempt == 2 {
			return &fakeConverter{pages: 2, assembleErr: errors.New("mangled page stream")}
		}
		return &fakeConverter{pages: 2}
	}

	rec := &eventRecorder{}
	batch := NewBatchTask(repos.Documents, newConv, rec, 300, nil)
	require.NoError(t, batch.Run(context.Background()))

	ctx := context.Background()
	for _, id := range []int64{doc1.ID, doc3.ID} {
		got, err := repos.Documents.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusCompleted, got.ConversionStatus)
		assert.Equal(t, 100.0, got.ConversionProgress)
		assert.Equal(t, 2, got.PageCount)
		require.NotNil(t, got.ConvertedPath)
		assert.FileExists(t, *got.ConvertedPath)
	}

	failed, err := repos.Documents.GetByID(ctx, doc2.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, failed.ConversionStatus)
	assert.Equal(t, 0.0, failed.ConversionProgress)
	assert.Nil(t, failed.ConvertedPath)

	assert.Len(t, rec.ofKind(EventCompleted), 2)
	assert.Len(t, rec.ofKind(EventFailed), 1)
	assert.Equal(t, doc2.ID, rec.ofKind(EventFailed)[0].DocID)
}

func TestBatchTask_StopAfterCurrentDocument(t *testing.T) {
	_, repos := newTestDB(t)
	kb := seedKB(t, repos, "archive", t.TempDir())
	doc1 := seedScannedDoc(t, repos, kb, "a.pdf")
	doc2 := seedScannedDoc(t, repos, kb, "b.pdf")
	doc3 := seedScannedDoc(t, repos, kb, "c.pdf")

	var batch *BatchTask
	stopOnFirstCompletion := SinkFunc(func(e Event) {
		if e.Kind == EventCompleted {
			batch.Stop()
		}
	})

	batch = NewBatchTask(repos.Documents, func() PageConverter { return &fakeConverter{pages: 1} }, stopOnFirstCompletion, 300, nil)
	require.NoError(t, batch.Run(context.Background()))

	ctx := context.Background()
	first, err := repos.Documents.GetByID(ctx, doc1.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, first.ConversionStatus)

	for _, id := range []int64{doc2.ID, doc3.ID} {
		got, err := repos.Documents.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusPending, got.ConversionStatus)
	}
}

func TestBatchTask_PersistsMonotonicProgress(t *testing.T) {
	_, repos := newTestDB(t)
	kb := seedKB(t, repos, "scans", t.TempDir())
	doc := seedScannedDoc(t, repos, kb, "big.pdf")

	store := &recordingStore{DocumentRepository: repos.Documents}
	batch := NewBatchTask(store, func() PageConverter { return &fakeConverter{pages: 5} }, NopSink, 300, nil)
	require.NoError(t, batch.Run(context.Background()))

	updates := store.updatesFor(doc.ID)
	require.NotEmpty(t, updates)

	// First write is the in_progress/0 transition, last the terminal
	// completed/100; everything persisted in between never goes backwards.
	assert.Equal(t, storage.StatusInProgress, updates[0].status)
	require.NotNil(t, updates[0].progress)
	assert.Equal(t, 0.0, *updates[0].progress)

	last := updates[len(updates)-1]
	assert.Equal(t, storage.StatusCompleted, last.status)
	require.NotNil(t, last.progress)
	assert.Equal(t, 100.0, *last.progress)

	prev := -1.0
	for _, u := range updates {
		require.NotNil(t, u.progress)
		assert.GreaterOrEqual(t, *u.progress, prev)
		prev = *u.progress
	}

	// The page callbacks and the assembly ramp (95, 99) were persisted,
	// not only the terminal state.
	assert.GreaterOrEqual(t, len(updates), 8)
}

func TestBatchTask_FailureResetsPersistedProgress(t *testing.T) {
	_, repos := newTestDB(t)
	kb := seedKB(t, repos, "scans", t.TempDir())
	doc := seedScannedDoc(t, repos, kb, "bad.pdf")

	conv := &fakeConverter{pages: 4, processErr: errors.New("ocr engine aborted"), failOnPage: 3}
	batch := NewBatchTask(repos.Documents, func() PageConverter { return conv }, NopSink, 300, nil)
	require.NoError(t, batch.Run(context.Background()))

	got, err := repos.Documents.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.ConversionStatus)
	assert.Equal(t, 0.0, got.ConversionProgress)

	// A failed document is eligible again once reset to pending or retried
	// directly; it must not appear in the pending queue as-is.
	pending, err := repos.Documents.ListPendingConversions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBatchTask_ConvertOne_RetriesFailedDocument(t *testing.T) {
	_, repos := newTestDB(t)
	kb := seedKB(t, repos, "scans", t.TempDir())
	doc := seedScannedDoc(t, repos, kb, "retry.pdf")

	ctx := context.Background()
	zero := 0.0
	require.NoError(t, repos.Documents.UpdateConversion(ctx, doc.ID, storage.StatusFailed, &zero, nil, nil))

	store := &recordingStore{DocumentRepository: repos.Documents}
	batch := NewBatchTask(store, func() PageConverter { return &fakeConverter{pages: 2} }, NopSink, 300, nil)
	batch.ConvertOne(ctx, &storage.PendingConversion{
		DocID:       doc.ID,
		SourcePath:  doc.OriginalPath,
		KBName:      kb.Name,
		KBDirectory: kb.Directory,
	})

	// The retry walks failed -> in_progress -> completed.
	updates := store.updatesFor(doc.ID)
	require.NotEmpty(t, updates)
	assert.Equal(t, storage.StatusInProgress, updates[0].status)
	assert.Equal(t, storage.StatusCompleted, updates[len(updates)-1].status)

	got, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.ConversionStatus)
	assert.Equal(t, 100.0, got.ConversionProgress)
	require.NotNil(t, got.ConvertedPath)
	assert.FileExists(t, *got.ConvertedPath)
}

func TestBatchTask_OutputDirDerivedFromKB(t *testing.T) {
	_, repos := newTestDB(t)
	kbDir := t.TempDir()
	kb := seedKB(t, repos, "reports", kbDir)
	doc := seedScannedDoc(t, repos, kb, "q3.pdf")

	batch := NewBatchTask(repos.Documents, func() PageConverter { return &fakeConverter{pages: 1} }, NopSink, 300, nil)
	require.NoError(t, batch.Run(context.Background()))

	got, err := repos.Documents.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ConvertedPath)
	assert.Equal(t, filepath.Join(kbDir, "converted", "q3_converted.pdf"), *got.ConvertedPath)
}

func TestBatchTask_EmptyQueue(t *testing.T) {
	_, repos := newTestDB(t)
	batch := NewBatchTask(repos.Documents, func() PageConverter { return &fakeConverter{} }, NopSink, 300, nil)
	require.NoError(t, batch.Run(context.Background()))
}
