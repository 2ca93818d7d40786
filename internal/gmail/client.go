package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
)

const (
	baseURL              = "https://gmail.googleapis.com/gmail/v1"
	responseHeaderTimeout = 30 * time.Second
	maxErrorBody         = 4 << 10
)

// Client implements API over the Gmail REST endpoints.
type Client struct {
	transport     *Transport
	transportOpts []TransportOption
	quota         *QuotaLimiter
	logger        *slog.Logger
	baseURL       string
	userID        string // "me" for authenticated user
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithQuota sets a shared quota limiter.
func WithQuota(q *QuotaLimiter) ClientOption {
	return func(c *Client) {
		c.quota = q
	}
}

// WithTransportOptions configures the retrying transport built by NewClient.
func WithTransportOptions(opts ...TransportOption) ClientOption {
	return func(c *Client) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// NewClient creates a client that authorizes every request with a bearer
// token from tokenSource.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		userID:  "me",
		baseURL: baseURL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = responseHeaderTimeout
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokenSource, Base: base},
	}

	topts := append([]TransportOption{WithTransportLogger(c.logger)}, c.transportOpts...)
	c.transport = NewTransport(httpClient, topts...)

	if c.quota == nil {
		c.quota = NewQuotaLimiter(DefaultQuotaUnitsPerSecond)
	}
	return c
}

var _ API = (*Client)(nil)

func (c *Client) requestFactory(path string, params url.Values) RequestFactory {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// checkResponse maps a non-retried response to a typed error. The body is
// consumed on error.
func checkResponse(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthError{Path: path, Body: string(body)}
	case http.StatusNotFound:
		return &NotFoundError{Path: path}
	default:
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// getJSON runs a cheap GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, op Operation, path string, params url.Values, out any) error {
	if err := c.quota.Acquire(ctx, op); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	resp, err := c.transport.ExecuteWithRetry(ctx, c.requestFactory(path, params))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, path); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	var resp gmailv1.Profile
	if err := c.getJSON(ctx, OpProfile, path, nil, &resp); err != nil {
		return nil, err
	}
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     resp.HistoryId,
	}, nil
}

// ListMessages returns one page of message references carrying labelID.
func (c *Client) ListMessages(ctx context.Context, labelID string, pageSize int64, pageToken string) (*MessageListResponse, error) {
	params := url.Values{}
	if labelID != "" {
		params.Set("labelIds", labelID)
	}
	if pageSize > 0 {
		params.Set("maxResults", strconv.FormatInt(pageSize, 10))
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/messages", c.userID)
	var resp gmailv1.ListMessagesResponse
	if err := c.getJSON(ctx, OpMessagesList, path, params, &resp); err != nil {
		return nil, err
	}

	out := &MessageListResponse{
		Messages:           make([]MessageRef, 0, len(resp.Messages)),
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		if m == nil || m.Id == "" {
			continue
		}
		out.Messages = append(out.Messages, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return out, nil
}

// GetMessage fetches a message in full format. The call holds an expensive
// gate permit until the body is decoded.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	if err := c.quota.Acquire(ctx, OpMessagesGet); err != nil {
		return nil, fmt.Errorf("quota: %w", err)
	}
	path := fmt.Sprintf("/users/%s/messages/%s", c.userID, url.PathEscape(messageID))
	params := url.Values{"format": {"full"}}

	var msg gmailv1.Message
	err := c.transport.Expensive(ctx, c.requestFactory(path, params), func(resp *http.Response) error {
		if err := checkResponse(resp, path); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			return fmt.Errorf("parse message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListHistory returns changes since startHistoryID. A 400 or 404 from the
// history endpoint means the cursor is no longer usable.
func (c *Client) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	params := url.Values{}
	params.Set("startHistoryId", strconv.FormatUint(startHistoryID, 10))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/history", c.userID)
	var resp gmailv1.ListHistoryResponse
	if err := c.getJSON(ctx, OpHistoryList, path, params, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
			return nil, &CursorInvalidError{StartHistoryID: startHistoryID, Body: statusErr.Body}
		}
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return nil, &CursorInvalidError{StartHistoryID: startHistoryID}
		}
		return nil, err
	}

	return &HistoryResponse{
		History:       flattenHistory(resp.History),
		NextPageToken: resp.NextPageToken,
		HistoryID:     resp.HistoryId,
	}, nil
}

// flattenHistory converts wire history entries into ordered change lists.
// Within one record, additions come first, then deletions, then label edits.
func flattenHistory(entries []*gmailv1.History) []HistoryRecord {
	records := make([]HistoryRecord, 0, len(entries))
	for _, h := range entries {
		if h == nil {
			continue
		}
		rec := HistoryRecord{ID: h.Id}
		for _, a := range h.MessagesAdded {
			if ref, ok := refOf(a.Message); ok {
				rec.Changes = append(rec.Changes, Change{Kind: ChangeMessageAdded, Message: ref})
			}
		}
		for _, d := range h.MessagesDeleted {
			if ref, ok := refOf(d.Message); ok {
				rec.Changes = append(rec.Changes, Change{Kind: ChangeMessageDeleted, Message: ref})
			}
		}
		for _, l := range h.LabelsAdded {
			if ref, ok := refOf(l.Message); ok {
				rec.Changes = append(rec.Changes, Change{Kind: ChangeLabelsAdded, Message: ref, LabelIDs: l.LabelIds})
			}
		}
		for _, l := range h.LabelsRemoved {
			if ref, ok := refOf(l.Message); ok {
				rec.Changes = append(rec.Changes, Change{Kind: ChangeLabelsRemoved, Message: ref, LabelIDs: l.LabelIds})
			}
		}
		records = append(records, rec)
	}
	return records
}

func refOf(m *gmailv1.Message) (MessageRef, bool) {
	if m == nil || m.Id == "" {
		return MessageRef{}, false
	}
	return MessageRef{ID: m.Id, ThreadID: m.ThreadId}, true
}

// StreamAttachment downloads an attachment and writes its decoded bytes to
// w. The response body is decoded as it streams, so memory use does not
// grow with the attachment size.
func (c *Client) StreamAttachment(ctx context.Context, messageID, attachmentID string, w io.Writer) (int64, error) {
	if err := c.quota.Acquire(ctx, OpAttachmentsGet); err != nil {
		return 0, fmt.Errorf("quota: %w", err)
	}
	path := fmt.Sprintf("/users/%s/messages/%s/attachments/%s",
		c.userID, url.PathEscape(messageID), url.PathEscape(attachmentID))

	var written int64
	err := c.transport.Expensive(ctx, c.requestFactory(path, nil), func(resp *http.Response) error {
		if err := checkResponse(resp, path); err != nil {
			return err
		}
		data, err := attachmentData(resp.Body)
		if err != nil {
			return err
		}
		written, err = io.Copy(w, data)
		if err != nil {
			return fmt.Errorf("stream attachment: %w", err)
		}
		return nil
	})
	return written, err
}
