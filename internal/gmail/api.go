// Package gmail provides the remote mailbox client: a retrying HTTP
// transport with a bounded gate for expensive calls, and typed access to the
// Gmail REST endpoints the sync engine needs.
package gmail

import (
	"context"
	"io"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// Message is the remote full-message representation (format=full).
type Message = gmailv1.Message

// MessagePart is one node of a message's MIME tree.
type MessagePart = gmailv1.MessagePart

// AccountReader provides read access to account-level data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile, including the
	// mailbox's current history ID.
	GetProfile(ctx context.Context) (*Profile, error)
}

// MessageReader provides read access to messages and the change log.
type MessageReader interface {
	// ListMessages returns one page of message references carrying labelID.
	ListMessages(ctx context.Context, labelID string, pageSize int64, pageToken string) (*MessageListResponse, error)

	// GetMessage fetches a full message. Counts against the expensive gate.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// ListHistory returns one page of changes after startHistoryID. A cursor
	// the server no longer accepts yields *CursorInvalidError.
	ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error)
}

// AttachmentReader streams attachment bytes.
type AttachmentReader interface {
	// StreamAttachment writes the decoded attachment to w without holding
	// the whole payload in memory. Counts against the expensive gate.
	StreamAttachment(ctx context.Context, messageID, attachmentID string, w io.Writer) (int64, error)
}

// API defines the remote operations used by the sync engine and query layer.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	AccountReader
	MessageReader
	AttachmentReader
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// MessageRef identifies a message in list and history responses.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessageListResponse contains a page of message references.
type MessageListResponse struct {
	Messages           []MessageRef
	NextPageToken      string
	ResultSizeEstimate int64
}

// ChangeKind is the type of a history change.
type ChangeKind int

const (
	ChangeMessageAdded ChangeKind = iota
	ChangeMessageDeleted
	ChangeLabelsAdded
	ChangeLabelsRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMessageAdded:
		return "message_added"
	case ChangeMessageDeleted:
		return "message_deleted"
	case ChangeLabelsAdded:
		return "labels_added"
	case ChangeLabelsRemoved:
		return "labels_removed"
	default:
		return "unknown"
	}
}

// Change is a single entry of the change log.
type Change struct {
	Kind    ChangeKind
	Message MessageRef
	// LabelIDs lists the labels added or removed. Empty for message changes.
	LabelIDs []string
}

// HistoryRecord is one history entry, its changes flattened in apply order.
type HistoryRecord struct {
	ID      uint64
	Changes []Change
}

// HistoryResponse contains a page of history records.
type HistoryResponse struct {
	History       []HistoryRecord
	NextPageToken string
	// HistoryID is the mailbox's current history ID, the next cursor.
	HistoryID uint64
}
