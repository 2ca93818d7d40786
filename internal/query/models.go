// Package query serves read views of the local cache: label listings with
// offset pagination, thread views, per-label and per-day counts, and lazy
// full-message retrieval from the remote.
package query

import (
	"github.com/wesm/mailmirror/internal/store"
)

// DefaultPageSize is used when a caller asks for a page size <= 0.
const DefaultPageSize = 20

// MessageSummary represents a message in list views.
// Contains enough information for display without fetching the body.
type MessageSummary struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	From         string   `json:"from"`
	Subject      string   `json:"subject"`
	Date         string   `json:"date"`
	Snippet      string   `json:"snippet"`
	LabelIDs     []string `json:"labelIds"`
	InternalDate int64    `json:"internalDate"`
	Unread       bool     `json:"unread"`
}

// Page is one page of a filtered listing.
type Page struct {
	Messages []MessageSummary `json:"messages"`
	// NextPageToken is empty on the last page.
	NextPageToken string `json:"nextPageToken,omitempty"`
	// Total is the size of the filtered result set, across all pages.
	Total int `json:"total"`
}

// ThreadSummary is a conversation in the thread view.
type ThreadSummary struct {
	ThreadID     string           `json:"threadId"`
	LastActivity int64            `json:"lastActivity"`
	Messages     []MessageSummary `json:"messages"`
}

// LabelCount is the per-label tally in the mailbox stats view.
type LabelCount struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Total  int64  `json:"total"`
	Unread int64  `json:"unread"`
}

// TodayCounts is the number of messages received during the current local
// calendar day.
type TodayCounts struct {
	TotalToday  int64 `json:"totalToday"`
	UnreadToday int64 `json:"unreadToday"`
}

// Summarize builds the list-view form of a cached message.
func Summarize(m *store.CachedMessage) MessageSummary {
	labelIDs := m.LabelIDs
	if labelIDs == nil {
		labelIDs = []string{}
	}
	return MessageSummary{
		ID:           m.MessageID,
		ThreadID:     m.ThreadID,
		From:         m.Header("From"),
		Subject:      m.Header("Subject"),
		Date:         m.Header("Date"),
		Snippet:      m.Snippet,
		LabelIDs:     labelIDs,
		InternalDate: m.InternalDate,
		Unread:       m.HasLabel("UNREAD"),
	}
}
