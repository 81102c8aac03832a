package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) (*sql.DB, *Repositories) {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, NewRepositories(db)
}

func TestKnowledgeBaseRepository_DuplicateNameConflicts(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.KnowledgeBases.Create(ctx, &KnowledgeBase{Name: "manuals", Directory: "/kb/manuals"}))

	err := repos.KnowledgeBases.Create(ctx, &KnowledgeBase{Name: "manuals", Directory: "/kb/other"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestKnowledgeBaseRepository_GetByName(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kb := &KnowledgeBase{Name: "contracts", Directory: "/kb/contracts"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kb))
	assert.NotZero(t, kb.ID)

	got, err := repos.KnowledgeBases.GetByName(ctx, "contracts")
	require.NoError(t, err)
	assert.Equal(t, kb.ID, got.ID)
	assert.Equal(t, "/kb/contracts", got.Directory)

	_, err = repos.KnowledgeBases.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKnowledgeBaseRepository_DeleteCascadesDocuments(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kb := &KnowledgeBase{Name: "tmp", Directory: "/kb/tmp"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kb))

	doc := &Document{KBID: kb.ID, OriginalFilename: "a.pdf", OriginalPath: "/kb/tmp/a.pdf", IsScanned: true}
	require.NoError(t, repos.Documents.Create(ctx, doc))

	require.NoError(t, repos.KnowledgeBases.Delete(ctx, kb.ID))

	_, err := repos.Documents.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repos.KnowledgeBases.Delete(ctx, kb.ID), ErrNotFound)
}

func TestDocumentRepository_StatusAssignedAtCreation(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kb := &KnowledgeBase{Name: "kb", Directory: "/kb"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kb))

	scanned := &Document{KBID: kb.ID, OriginalFilename: "scan.pdf", OriginalPath: "/kb/scan.pdf", IsScanned: true}
	require.NoError(t, repos.Documents.Create(ctx, scanned))
	assert.Equal(t, StatusPending, scanned.ConversionStatus)

	native := &Document{KBID: kb.ID, OriginalFilename: "born.pdf", OriginalPath: "/kb/born.pdf", IsScanned: false}
	require.NoError(t, repos.Documents.Create(ctx, native))
	assert.Equal(t, StatusNotRequired, native.ConversionStatus)

	got, err := repos.Documents.GetByID(ctx, native.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotRequired, got.ConversionStatus)
	assert.Equal(t, 0.0, got.ConversionProgress)
	assert.True(t, got.ConversionStatus.Terminal())
}

func TestDocumentRepository_UpdateConversionPartial(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kb := &KnowledgeBase{Name: "kb", Directory: "/kb"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kb))

	doc := &Document{KBID: kb.ID, OriginalFilename: "scan.pdf", OriginalPath: "/kb/scan.pdf", IsScanned: true}
	require.NoError(t, repos.Documents.Create(ctx, doc))

	// Status-only update leaves progress, path, and page count untouched.
	progress := 47.5
	require.NoError(t, repos.Documents.UpdateConversion(ctx, doc.ID, StatusInProgress, &progress, nil, nil))
	require.NoError(t, repos.Documents.UpdateConversion(ctx, doc.ID, StatusInProgress, nil, nil, nil))

	got, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.ConversionStatus)
	assert.Equal(t, 47.5, got.ConversionProgress)
	assert.Nil(t, got.ConvertedPath)
	assert.Equal(t, 0, got.PageCount)

	// Full terminal update.
	hundred := 100.0
	path := "/kb/converted/scan_converted.pdf"
	pages := 12
	require.NoError(t, repos.Documents.UpdateConversion(ctx, doc.ID, StatusCompleted, &hundred, &path, &pages))

	got, err = repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.ConversionStatus)
	assert.Equal(t, 100.0, got.ConversionProgress)
	require.NotNil(t, got.ConvertedPath)
	assert.Equal(t, path, *got.ConvertedPath)
	assert.Equal(t, 12, got.PageCount)

	assert.ErrorIs(t, repos.Documents.UpdateConversion(ctx, 9999, StatusFailed, nil, nil, nil), ErrNotFound)
}

func TestDocumentRepository_ListPendingConversions(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kbA := &KnowledgeBase{Name: "alpha", Directory: "/kb/alpha"}
	kbB := &KnowledgeBase{Name: "beta", Directory: "/kb/beta"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kbA))
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kbB))

	d1 := &Document{KBID: kbA.ID, OriginalFilename: "one.pdf", OriginalPath: "/kb/alpha/one.pdf", IsScanned: true}
	d2 := &Document{KBID: kbB.ID, OriginalFilename: "two.pdf", OriginalPath: "/kb/beta/two.pdf", IsScanned: true}
	native := &Document{KBID: kbA.ID, OriginalFilename: "text.pdf", OriginalPath: "/kb/alpha/text.pdf", IsScanned: false}
	failed := &Document{KBID: kbA.ID, OriginalFilename: "bad.pdf", OriginalPath: "/kb/alpha/bad.pdf", IsScanned: true}
	for _, d := range []*Document{d1, d2, native, failed} {
		require.NoError(t, repos.Documents.Create(ctx, d))
	}
	require.NoError(t, repos.Documents.UpdateConversion(ctx, failed.ID, StatusFailed, nil, nil, nil))

	pending, err := repos.Documents.ListPendingConversions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Insertion order, joined with the owning KB.
	assert.Equal(t, d1.ID, pending[0].DocID)
	assert.Equal(t, "alpha", pending[0].KBName)
	assert.Equal(t, "/kb/alpha", pending[0].KBDirectory)
	assert.Equal(t, d2.ID, pending[1].DocID)
	assert.Equal(t, "beta", pending[1].KBName)
}

func TestDocumentRepository_ResetStale(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kb := &KnowledgeBase{Name: "kb", Directory: "/kb"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kb))

	stuck := &Document{KBID: kb.ID, OriginalFilename: "stuck.pdf", OriginalPath: "/kb/stuck.pdf", IsScanned: true}
	done := &Document{KBID: kb.ID, OriginalFilename: "done.pdf", OriginalPath: "/kb/done.pdf", IsScanned: true}
	require.NoError(t, repos.Documents.Create(ctx, stuck))
	require.NoError(t, repos.Documents.Create(ctx, done))

	half := 50.0
	require.NoError(t, repos.Documents.UpdateConversion(ctx, stuck.ID, StatusInProgress, &half, nil, nil))
	hundred := 100.0
	require.NoError(t, repos.Documents.UpdateConversion(ctx, done.ID, StatusCompleted, &hundred, nil, nil))

	n, err := repos.Documents.ResetStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repos.Documents.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.ConversionStatus)
	assert.Equal(t, 0.0, got.ConversionProgress)

	got, err = repos.Documents.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.ConversionStatus)
}

func TestConversationAndMessageRepositories(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()

	kb := &KnowledgeBase{Name: "kb", Directory: "/kb"}
	require.NoError(t, repos.KnowledgeBases.Create(ctx, kb))

	conv := &Conversation{ConversationID: "conv_abc123", DataElement: "warranty period", Procedure: "lookup", KBID: kb.ID}
	require.NoError(t, repos.Conversations.Create(ctx, conv))

	dup := &Conversation{ConversationID: "conv_abc123", DataElement: "x", Procedure: "y", KBID: kb.ID}
	assert.ErrorIs(t, repos.Conversations.Create(ctx, dup), ErrConflict)

	require.NoError(t, repos.Messages.Create(ctx, &Message{ConversationID: "conv_abc123", IsUser: true, Message: "warranty period - lookup"}))
	require.NoError(t, repos.Messages.Create(ctx, &Message{ConversationID: "conv_abc123", IsUser: false, Message: "24 months"}))

	msgs, err := repos.Messages.ListByConversation(ctx, "conv_abc123")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsUser)
	assert.False(t, msgs[1].IsUser)

	_, err = repos.Conversations.GetByConversationID(ctx, "conv_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversionStatus_Validity(t *testing.T) {
	for _, s := range []ConversionStatus{StatusNotRequired, StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, ConversionStatus("queued").Valid())

	assert.True(t, StatusNotRequired.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}
