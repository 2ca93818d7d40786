package gmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// MockAPI is an in-memory implementation of API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return; when nil a profile is synthesized from HistoryID.
	Profile *Profile

	// Messages indexed by ID. ListMessages pages through the ones that carry
	// the requested label.
	Messages map[string]*Message

	// Attachments keyed by messageID + "/" + attachmentID.
	Attachments map[string][]byte

	// HistoryPages are returned in order using page_N tokens. HistoryID is
	// reported on every page.
	HistoryPages [][]HistoryRecord
	HistoryID    uint64

	// FetchDelay makes GetMessage block so tests can observe concurrency.
	FetchDelay time.Duration

	// Error injection
	ProfileError    error
	ListErrors      map[string]error // per label
	GetMessageError map[string]error // per message
	HistoryError    error
	HistoryErrors   map[uint64]error // per start cursor

	// Call tracking for assertions
	ProfileCalls      int
	ListMessagesCalls []string
	GetMessageCalls   []string
	HistoryCalls      []uint64
	AttachmentCalls   []string
	inFlight          int
	MaxInFlight       int
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*Message),
		Attachments:     make(map[string][]byte),
		ListErrors:      make(map[string]error),
		GetMessageError: make(map[string]error),
		HistoryErrors:   make(map[uint64]error),
	}
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile != nil {
		p := *m.Profile
		return &p, nil
	}
	return &Profile{
		EmailAddress:  "test@example.com",
		MessagesTotal: int64(len(m.Messages)),
		HistoryID:     m.HistoryID,
	}, nil
}

// ListMessages returns messages carrying labelID, newest first.
func (m *MockAPI) ListMessages(ctx context.Context, labelID string, pageSize int64, pageToken string) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls = append(m.ListMessagesCalls, labelID)

	if err := m.ListErrors[labelID]; err != nil {
		return nil, err
	}

	pageNum, err := parsePageToken(pageToken)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	var matching []*Message
	for _, msg := range m.Messages {
		if slices.Contains(msg.LabelIds, labelID) {
			matching = append(matching, msg)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		if matching[i].InternalDate != matching[j].InternalDate {
			return matching[i].InternalDate > matching[j].InternalDate
		}
		return matching[i].Id < matching[j].Id
	})

	start := int64(pageNum) * pageSize
	if start > int64(len(matching)) {
		start = int64(len(matching))
	}
	end := start + pageSize
	if end > int64(len(matching)) {
		end = int64(len(matching))
	}

	resp := &MessageListResponse{ResultSizeEstimate: int64(len(matching))}
	for _, msg := range matching[start:end] {
		resp.Messages = append(resp.Messages, MessageRef{ID: msg.Id, ThreadID: msg.ThreadId})
	}
	if end < int64(len(matching)) {
		resp.NextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}
	return resp, nil
}

// GetMessage returns a copy of the stored message.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m.mu.Lock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)
	m.inFlight++
	if m.inFlight > m.MaxInFlight {
		m.MaxInFlight = m.inFlight
	}
	delay := m.FetchDelay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.GetMessageError[messageID]; err != nil {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	cp := *msg
	cp.LabelIds = slices.Clone(msg.LabelIds)
	return &cp, nil
}

// ListHistory returns the configured history pages.
func (m *MockAPI) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls = append(m.HistoryCalls, startHistoryID)

	if err := m.HistoryErrors[startHistoryID]; err != nil {
		return nil, err
	}
	if m.HistoryError != nil {
		return nil, m.HistoryError
	}

	pageNum, err := parsePageToken(pageToken)
	if err != nil {
		return nil, err
	}
	resp := &HistoryResponse{HistoryID: m.HistoryID}
	if pageNum < len(m.HistoryPages) {
		resp.History = m.HistoryPages[pageNum]
	}
	if pageNum+1 < len(m.HistoryPages) {
		resp.NextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}
	return resp, nil
}

// StreamAttachment copies the stored attachment to w.
func (m *MockAPI) StreamAttachment(ctx context.Context, messageID, attachmentID string, w io.Writer) (int64, error) {
	m.mu.Lock()
	key := messageID + "/" + attachmentID
	m.AttachmentCalls = append(m.AttachmentCalls, key)
	data, ok := m.Attachments[key]
	m.mu.Unlock()

	if !ok {
		return 0, &NotFoundError{Path: "/attachments/" + key}
	}
	return io.Copy(w, bytes.NewReader(data))
}

func parsePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(token, "page_%d", &n); err != nil {
		return 0, fmt.Errorf("invalid page token: %s", token)
	}
	return n, nil
}

// AddMessage stores msg, replacing any message with the same ID.
func (m *MockAPI) AddMessage(msgs ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*Message)
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.Messages[msg.Id] = msg
	}
}

// SetLabels replaces the labels on a stored message.
func (m *MockAPI) SetLabels(id string, labelIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.Messages[id]; ok {
		msg.LabelIds = labelIDs
	}
}

// RemoveMessage deletes a message from the mock mailbox.
func (m *MockAPI) RemoveMessage(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Messages, id)
}

// Calls returns a snapshot of the GetMessage call log.
func (m *MockAPI) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.GetMessageCalls)
}

// NewTestMessage builds a plain-text message with Subject, From and Date
// headers derived from its ID and internal date.
func NewTestMessage(id, threadID string, internalDate int64, labelIDs ...string) *Message {
	date := time.UnixMilli(internalDate).UTC().Format(time.RFC1123Z)
	return &gmailv1.Message{
		Id:           id,
		ThreadId:     threadID,
		LabelIds:     labelIDs,
		Snippet:      "snippet " + id,
		InternalDate: internalDate,
		Payload: &gmailv1.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "Subject", Value: "Subject " + id},
				{Name: "From", Value: "Sender <sender@example.com>"},
				{Name: "To", Value: "me@example.com"},
				{Name: "Date", Value: date},
			},
			Body: &gmailv1.MessagePartBody{Data: "Ym9keQ", Size: 4},
		},
	}
}

// StaticProvider is a Provider over a fixed API, for tests.
type StaticProvider struct {
	mu sync.Mutex

	API API
	// Err, when set, is returned by Current and Refresh.
	Err error

	RefreshCalls    int
	InvalidateCalls int
	invalid         bool
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider returns a provider that always hands out api.
func NewStaticProvider(api API) *StaticProvider {
	return &StaticProvider{API: api}
}

// Current implements Provider.
func (p *StaticProvider) Current(ctx context.Context) (API, error) {
	p.mu.Lock()
	invalid := p.invalid
	err := p.Err
	api := p.API
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if invalid {
		return p.Refresh(ctx)
	}
	return api, nil
}

// Refresh implements Provider.
func (p *StaticProvider) Refresh(ctx context.Context) (API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RefreshCalls++
	if p.Err != nil {
		return nil, p.Err
	}
	p.invalid = false
	return p.API, nil
}

// Invalidate implements Provider.
func (p *StaticProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InvalidateCalls++
	p.invalid = true
}
