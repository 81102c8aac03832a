// Package storage provides database models and repositories for Paperbase.
package storage

import (
	"time"
)

// ConversionStatus represents the conversion state of a document.
type ConversionStatus string

const (
	// StatusNotRequired is terminal and assigned at creation for documents
	// that are not scanned.
	StatusNotRequired ConversionStatus = "not_required"
	StatusPending     ConversionStatus = "pending"
	StatusInProgress  ConversionStatus = "in_progress"
	StatusCompleted   ConversionStatus = "completed"
	StatusFailed      ConversionStatus = "failed"
)

// Valid reports whether s is one of the known conversion statuses.
func (s ConversionStatus) Valid() bool {
	switch s {
	case StatusNotRequired, StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further conversion run will ever touch a
// document in this status. Failed documents stay eligible for retry.
func (s ConversionStatus) Terminal() bool {
	return s == StatusNotRequired || s == StatusCompleted
}

// KnowledgeBase is a named collection of documents stored under one directory.
type KnowledgeBase struct {
	ID        int64
	Name      string
	Directory string
	CreatedAt time.Time
}

// Document is a PDF registered in a knowledge base.
type Document struct {
	ID                 int64
	KBID               int64
	OriginalFilename   string
	OriginalPath       string
	ConvertedPath      *string
	IsScanned          bool
	ConversionStatus   ConversionStatus
	ConversionProgress float64
	PageCount          int
	CreatedAt          time.Time
}

// PendingConversion is a row returned by ListPendingConversions: the
// document plus the owning knowledge base's name and directory, which the
// batch task needs to derive the output directory.
type PendingConversion struct {
	DocID       int64
	SourcePath  string
	KBName      string
	KBDirectory string
}

// Conversation is one query session against a knowledge base.
type Conversation struct {
	ID             int64
	ConversationID string
	DataElement    string
	Procedure      string
	KBID           int64
	CreatedAt      time.Time
}

// Message is one turn in a conversation.
type Message struct {
	ID             int64
	ConversationID string
	IsUser         bool
	Message        string
	CreatedAt      time.Time
}
