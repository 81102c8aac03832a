// Package kb manages knowledge bases: named document collections, each
// stored under its own directory with a converted/ subfolder for processed
// PDFs.
package kb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/paperbase/paperbase/internal/observability"
	"github.com/paperbase/paperbase/internal/storage"
)

// Manager creates knowledge bases and registers documents in them.
type Manager struct {
	baseDir string
	repos   *storage.Repositories
	logger  *observability.Logger
}

// NewManager creates a knowledge-base manager rooted at baseDir.
func NewManager(baseDir string, repos *storage.Repositories, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Manager{
		baseDir: baseDir,
		repos:   repos,
		logger:  logger.WithComponent("kb.manager"),
	}
}

// CreateKnowledgeBase creates the knowledge base directory (with its
// converted/ subfolder) and registers it. A duplicate name returns
// storage.ErrConflict.
func (m *Manager) CreateKnowledgeBase(ctx context.Context, name string) (*storage.KnowledgeBase, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("knowledge base name must not be empty")
	}

	dir := filepath.Join(m.baseDir, name)
	if err := os.MkdirAll(filepath.Join(dir, "converted"), 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge base directory: %w", err)
	}

	kb := &storage.KnowledgeBase{Name: name, Directory: dir}
	if err := m.repos.KnowledgeBases.Create(ctx, kb); err != nil {
		return nil, err
	}

	m.logger.Info().Str("name", name).Str("directory", dir).Msg("knowledge base created")
	return kb, nil
}

// AddDocument copies the file into the knowledge base directory and
// registers it. Scanned documents enter the conversion queue as pending;
// everything else is not_required from creation and never changes.
func (m *Manager) AddDocument(ctx context.Context, kbName, sourcePath string, scanned bool) (*storage.Document, error) {
	kb, err := m.repos.KnowledgeBases.GetByName(ctx, kbName)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(sourcePath)
	destination := filepath.Join(kb.Directory, filename)

	if err := copyFile(sourcePath, destination); err != nil {
		return nil, fmt.Errorf("copy document into knowledge base: %w", err)
	}

	doc := &storage.Document{
		KBID:             kb.ID,
		OriginalFilename: filename,
		OriginalPath:     destination,
		IsScanned:        scanned,
	}
	if err := m.repos.Documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("kb", kbName).
		Str("file", filename).
		Bool("scanned", scanned).
		Msg("document added")
	return doc, nil
}

// List returns all knowledge bases ordered by name.
func (m *Manager) List(ctx context.Context) ([]*storage.KnowledgeBase, error) {
	return m.repos.KnowledgeBases.List(ctx)
}

// Documents returns all documents of a knowledge base with their
// conversion state.
func (m *Manager) Documents(ctx context.Context, kbName string) ([]*storage.Document, error) {
	kb, err := m.repos.KnowledgeBases.GetByName(ctx, kbName)
	if err != nil {
		return nil, err
	}
	return m.repos.Documents.ListByKB(ctx, kb.ID)
}

// Files returns the queryable file paths of a knowledge base, preferring a
// document's converted artifact when it exists on disk and falling back to
// the original.
func (m *Manager) Files(ctx context.Context, kbName string) ([]string, error) {
	docs, err := m.Documents(ctx, kbName)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, doc := range docs {
		if doc.ConvertedPath != nil {
			if _, err := os.Stat(*doc.ConvertedPath); err == nil {
				files = append(files, *doc.ConvertedPath)
				continue
			}
		}
		if _, err := os.Stat(doc.OriginalPath); err == nil {
			files = append(files, doc.OriginalPath)
		}
	}
	return files, nil
}

// StartConversation records a new conversation against a knowledge base and
// returns it. Answer generation is the presentation layer's concern; the
// manager only owns the session records.
func (m *Manager) StartConversation(ctx context.Context, kbName, dataElement, procedure string) (*storage.Conversation, error) {
	kb, err := m.repos.KnowledgeBases.GetByName(ctx, kbName)
	if err != nil {
		return nil, err
	}

	conv := &storage.Conversation{
		ConversationID: newConversationID(),
		DataElement:    dataElement,
		Procedure:      procedure,
		KBID:           kb.ID,
	}
	if err := m.repos.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddMessage appends one turn to an existing conversation.
func (m *Manager) AddMessage(ctx context.Context, conversationID string, isUser bool, text string) (*storage.Message, error) {
	if _, err := m.repos.Conversations.GetByConversationID(ctx, conversationID); err != nil {
		return nil, err
	}

	msg := &storage.Message{
		ConversationID: conversationID,
		IsUser:         isUser,
		Message:        text,
	}
	if err := m.repos.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns all messages of a conversation in order.
func (m *Manager) History(ctx context.Context, conversationID string) ([]*storage.Message, error) {
	return m.repos.Messages.ListByConversation(ctx, conversationID)
}

// newConversationID generates an external conversation id: conv_<uuid hex>.
func newConversationID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// copyFile copies src to dst, truncating any existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
