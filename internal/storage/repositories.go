package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// mapConstraintErr converts sqlite unique/foreign-key violations into ErrConflict.
func mapConstraintErr(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return ErrConflict
	}
	return err
}

// KnowledgeBaseRepository handles knowledge base CRUD operations.
type KnowledgeBaseRepository struct {
	db DB
}

// NewKnowledgeBaseRepository creates a new knowledge base repository.
func NewKnowledgeBaseRepository(db DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

// Create creates a new knowledge base. Returns ErrConflict when the name is taken.
func (r *KnowledgeBaseRepository) Create(ctx context.Context, kb *KnowledgeBase) error {
	query := `INSERT INTO knowledge_bases (name, directory) VALUES (?, ?)`
	result, err := r.db.ExecContext(ctx, query, kb.Name, kb.Directory)
	if err != nil {
		return mapConstraintErr(err)
	}
	kb.ID, err = result.LastInsertId()
	return err
}

// GetByID retrieves a knowledge base by ID.
func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id int64) (*KnowledgeBase, error) {
	query := `SELECT id, name, directory, created_at FROM knowledge_bases WHERE id = ?`
	kb := &KnowledgeBase{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&kb.ID, &kb.Name, &kb.Directory, &kb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return kb, err
}

// GetByName retrieves a knowledge base by name.
func (r *KnowledgeBaseRepository) GetByName(ctx context.Context, name string) (*KnowledgeBase, error) {
	query := `SELECT id, name, directory, created_at FROM knowledge_bases WHERE name = ?`
	kb := &KnowledgeBase{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&kb.ID, &kb.Name, &kb.Directory, &kb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return kb, err
}

// List lists all knowledge bases ordered by name.
func (r *KnowledgeBaseRepository) List(ctx context.Context) ([]*KnowledgeBase, error) {
	query := `SELECT id, name, directory, created_at FROM knowledge_bases ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kbs []*KnowledgeBase
	for rows.Next() {
		kb := &KnowledgeBase{}
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Directory, &kb.CreatedAt); err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

// Delete removes a knowledge base; documents cascade.
func (r *KnowledgeBaseRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DocumentRepository handles document CRUD operations.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create registers a document. Scanned documents start pending conversion;
// everything else is terminal not_required from the start.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ConversionStatus == "" {
		if doc.IsScanned {
			doc.ConversionStatus = StatusPending
		} else {
			doc.ConversionStatus = StatusNotRequired
		}
	}

	query := `
		INSERT INTO documents (kb_id, original_filename, original_path, is_scanned, conversion_status)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		doc.KBID, doc.OriginalFilename, doc.OriginalPath, doc.IsScanned, doc.ConversionStatus,
	)
	if err != nil {
		return mapConstraintErr(err)
	}
	doc.ID, err = result.LastInsertId()
	return err
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*Document, error) {
	query := `
		SELECT id, kb_id, original_filename, original_path, converted_path,
			is_scanned, conversion_status, conversion_progress, page_count, created_at
		FROM documents
		WHERE id = ?
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.KBID, &doc.OriginalFilename, &doc.OriginalPath, &doc.ConvertedPath,
		&doc.IsScanned, &doc.ConversionStatus, &doc.ConversionProgress, &doc.PageCount, &doc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// ListByKB lists all documents for a knowledge base ordered by filename.
func (r *DocumentRepository) ListByKB(ctx context.Context, kbID int64) ([]*Document, error) {
	query := `
		SELECT id, kb_id, original_filename, original_path, converted_path,
			is_scanned, conversion_status, conversion_progress, page_count, created_at
		FROM documents
		WHERE kb_id = ?
		ORDER BY original_filename
	`
	rows, err := r.db.QueryContext(ctx, query, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(
			&doc.ID, &doc.KBID, &doc.OriginalFilename, &doc.OriginalPath, &doc.ConvertedPath,
			&doc.IsScanned, &doc.ConversionStatus, &doc.ConversionProgress, &doc.PageCount, &doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateConversion performs a partial update of a document's conversion
// state. Nil fields are left unchanged.
func (r *DocumentRepository) UpdateConversion(ctx context.Context, docID int64, status ConversionStatus, progress *float64, convertedPath *string, pageCount *int) error {
	var sb strings.Builder
	sb.WriteString("UPDATE documents SET conversion_status = ?")
	args := []interface{}{status}

	if progress != nil {
		sb.WriteString(", conversion_progress = ?")
		args = append(args, *progress)
	}
	if convertedPath != nil {
		sb.WriteString(", converted_path = ?")
		args = append(args, *convertedPath)
	}
	if pageCount != nil {
		sb.WriteString(", page_count = ?")
		args = append(args, *pageCount)
	}

	sb.WriteString(" WHERE id = ?")
	args = append(args, docID)

	result, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingConversions returns every scanned document awaiting conversion,
// joined with its knowledge base, in the store's natural (insertion) order.
func (r *DocumentRepository) ListPendingConversions(ctx context.Context) ([]*PendingConversion, error) {
	query := `
		SELECT d.id, d.original_path, k.name, k.directory
		FROM documents d
		JOIN knowledge_bases k ON d.kb_id = k.id
		WHERE d.is_scanned AND d.conversion_status = ?
	`
	rows, err := r.db.QueryContext(ctx, query, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingConversion
	for rows.Next() {
		p := &PendingConversion{}
		if err := rows.Scan(&p.DocID, &p.SourcePath, &p.KBName, &p.KBDirectory); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// ResetStale moves documents stuck in_progress back to pending with progress
// zero. Conversion never leaves a row in_progress between process runs, so
// any such row is leftover from an abnormal exit. Returns the number of rows
// reset.
func (r *DocumentRepository) ResetStale(ctx context.Context) (int64, error) {
	query := `
		UPDATE documents
		SET conversion_status = ?, conversion_progress = 0
		WHERE conversion_status = ?
	`
	result, err := r.db.ExecContext(ctx, query, StatusPending, StatusInProgress)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ConversationRepository handles conversation CRUD operations.
type ConversationRepository struct {
	db DB
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create records a new conversation. Returns ErrConflict on a duplicate
// conversation ID.
func (r *ConversationRepository) Create(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (conversation_id, data_element, procedure, kb_id)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		conv.ConversationID, conv.DataElement, conv.Procedure, conv.KBID,
	)
	if err != nil {
		return mapConstraintErr(err)
	}
	conv.ID, err = result.LastInsertId()
	return err
}

// GetByConversationID retrieves a conversation by its external ID.
func (r *ConversationRepository) GetByConversationID(ctx context.Context, conversationID string) (*Conversation, error) {
	query := `
		SELECT id, conversation_id, data_element, procedure, kb_id, created_at
		FROM conversations
		WHERE conversation_id = ?
	`
	conv := &Conversation{}
	err := r.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.ConversationID, &conv.DataElement, &conv.Procedure, &conv.KBID, &conv.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// MessageRepository handles message CRUD operations.
type MessageRepository struct {
	db DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a message to a conversation.
func (r *MessageRepository) Create(ctx context.Context, msg *Message) error {
	query := `INSERT INTO messages (conversation_id, is_user, message) VALUES (?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query, msg.ConversationID, msg.IsUser, msg.Message)
	if err != nil {
		return mapConstraintErr(err)
	}
	msg.ID, err = result.LastInsertId()
	return err
}

// ListByConversation lists all messages for a conversation in order.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, is_user, message, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.IsUser, &msg.Message, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Repositories bundles all repositories together.
type Repositories struct {
	KnowledgeBases *KnowledgeBaseRepository
	Documents      *DocumentRepository
	Conversations  *ConversationRepository
	Messages       *MessageRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		KnowledgeBases: NewKnowledgeBaseRepository(db),
		Documents:      NewDocumentRepository(db),
		Conversations:  NewConversationRepository(db),
		Messages:       NewMessageRepository(db),
	}
}
