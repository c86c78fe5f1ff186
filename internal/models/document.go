package models

import (
	"time"

	"github.com/lib/pq"
)

// DocumentStatus is the review outcome of a document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentApproved DocumentStatus = "approved"
	DocumentRejected DocumentStatus = "rejected"
)

// Document is a submitted research paper.
type Document struct {
	ID                string         `db:"id" json:"id"`
	Title             string         `db:"title" json:"title"`
	Authors           pq.StringArray `db:"authors" json:"authors"`
	Keywords          pq.StringArray `db:"keywords" json:"keywords"`
	DateCreated       *time.Time     `db:"date_created" json:"date_created,omitempty"`
	Journal           string         `db:"journal" json:"journal"`
	Abstract          string         `db:"abstract" json:"abstract"`
	Filename          string         `db:"filename" json:"filename"`
	FilePath          string         `db:"file_path" json:"-"`
	FileSize          int64          `db:"file_size" json:"file_size"`
	PreviewURLs       pq.StringArray `db:"preview_urls" json:"preview_urls"`
	UserID            string         `db:"user_id" json:"user_id"`
	Status            DocumentStatus `db:"status" json:"status"`
	ArchiveRequested  bool           `db:"archive_requested" json:"archive_requested"`
	IsArchived        bool           `db:"is_archived" json:"is_archived"`
	ArchiveReason     *string        `db:"archive_reason" json:"archive_reason,omitempty"`
	DeletionRequested bool           `db:"deletion_requested" json:"deletion_requested"`
	DeletionReason    *string        `db:"deletion_reason" json:"deletion_reason,omitempty"`
	Views             int64          `db:"views" json:"views"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`

	DownloadURL string `db:"-" json:"download_url,omitempty"`
}

// DocumentState is the part of a document the lifecycle reasons about.
type DocumentState struct {
	Status            DocumentStatus
	ArchiveRequested  bool
	IsArchived        bool
	DeletionRequested bool
}

// State extracts the lifecycle flags.
func (d *Document) State() DocumentState {
	return DocumentState{
		Status:            d.Status,
		ArchiveRequested:  d.ArchiveRequested,
		IsArchived:        d.IsArchived,
		DeletionRequested: d.DeletionRequested,
	}
}

// DocumentEvent is a lifecycle action.
type DocumentEvent string

const (
	EventApprove         DocumentEvent = "approve"
	EventReject          DocumentEvent = "reject"
	EventRequestArchive  DocumentEvent = "request_archive"
	EventArchive         DocumentEvent = "archive"
	EventApproveArchive  DocumentEvent = "approve_archive"
	EventRejectArchive   DocumentEvent = "reject_archive"
	EventRestore         DocumentEvent = "restore"
	EventRequestDeletion DocumentEvent = "request_deletion"
	EventApproveDeletion DocumentEvent = "approve_deletion"
	EventRejectDeletion  DocumentEvent = "reject_deletion"
	EventDelete          DocumentEvent = "delete"
)

// DocumentTransition is a persisted state change guarded by the expected
// prior state.
type DocumentTransition struct {
	DocumentID     string
	From           DocumentState
	To             DocumentState
	ArchiveReason  *string
	DeletionReason *string
}

// DocumentFilter drives public search.
type DocumentFilter struct {
	Query    string
	Keyword  string
	Author   string
	Journal  string
	Year     int
	Sort     string
	Page     int
	PageSize int
}

// DocumentQueue names an admin review queue.
type DocumentQueue string

const (
	QueuePending          DocumentQueue = "pending"
	QueueRejected         DocumentQueue = "rejected"
	QueueArchiveRequests  DocumentQueue = "archive-requests"
	QueueDeletionRequests DocumentQueue = "deletion-requests"
	QueueArchived         DocumentQueue = "archived"
)

// ParseDocumentQueue validates a queue name.
func ParseDocumentQueue(raw string) (DocumentQueue, bool) {
	q := DocumentQueue(raw)
	switch q {
	case QueuePending, QueueRejected, QueueArchiveRequests, QueueDeletionRequests, QueueArchived:
		return q, true
	}
	return "", false
}
