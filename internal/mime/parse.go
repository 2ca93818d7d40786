// Package mime flattens Gmail's structured message payload into a single
// renderable email: chosen body, decoded headers, attachment and inline
// image descriptors.
package mime

import (
	"encoding/base64"
	"errors"
	stdmime "mime"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	gmailv1 "google.golang.org/api/gmail/v1"
)

// MaxDepth bounds the part tree walk. Deeper parts are ignored.
const MaxDepth = 32

// Email is the rendered view of one message.
type Email struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId"`
	LabelIDs   []string   `json:"labelIds"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Cc         string     `json:"cc,omitempty"`
	Subject    string     `json:"subject"`
	Date       string     `json:"date"`
	DateParsed *time.Time `json:"dateParsed,omitempty"`
	Snippet    string     `json:"snippet"`

	// Body is the HTML part when present, else the plain part.
	Body     string `json:"body"`
	BodyHTML string `json:"bodyHtml,omitempty"`
	BodyText string `json:"bodyText"`

	Unread        bool         `json:"unread"`
	HasAttachment bool         `json:"hasAttachment"`
	Attachments   []Attachment `json:"attachments"`
	InlineImages  []Attachment `json:"inlineImages"`

	FromAddresses []Address `json:"fromAddresses,omitempty"`
	ToAddresses   []Address `json:"toAddresses,omitempty"`
}

// Address is a parsed mailbox.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes a downloadable part. Content is fetched separately
// by attachment ID.
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	PartID    string `json:"partId,omitempty"`
	ContentID string `json:"contentId,omitempty"`
}

var errNilMessage = errors.New("mime: nil message")

type frame struct {
	part  *gmailv1.MessagePart
	depth int
}

// Parse flattens msg. The part tree is walked in document order with an
// explicit stack.
func Parse(msg *gmailv1.Message) (*Email, error) {
	if msg == nil {
		return nil, errNilMessage
	}

	email := &Email{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     nonNil(msg.LabelIds),
		Snippet:      msg.Snippet,
		Attachments:  []Attachment{},
		InlineImages: []Attachment{},
	}
	for _, l := range msg.LabelIds {
		if l == "UNREAD" {
			email.Unread = true
		}
	}

	if msg.Payload == nil {
		return email, nil
	}
	parseHeaders(email, msg.Payload.Headers)

	var plain, htmlBody string
	var havePlain, haveHTML bool

	stack := []frame{{part: msg.Payload, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		part := f.part
		if part == nil || f.depth > MaxDepth {
			continue
		}

		if len(part.Parts) > 0 {
			for i := len(part.Parts) - 1; i >= 0; i-- {
				stack = append(stack, frame{part: part.Parts[i], depth: f.depth + 1})
			}
			continue
		}

		if att, ok := attachmentOf(part); ok {
			if att.ContentID != "" {
				email.InlineImages = append(email.InlineImages, att)
			} else {
				email.Attachments = append(email.Attachments, att)
			}
			continue
		}

		if part.Body == nil || part.Body.Data == "" {
			continue
		}
		mediaType, params := contentType(part)
		switch {
		case mediaType == "text/html" && !haveHTML:
			if text, ok := decodeBody(part.Body.Data, params["charset"]); ok {
				htmlBody, haveHTML = text, true
			}
		case mediaType == "text/plain" && !havePlain:
			if text, ok := decodeBody(part.Body.Data, params["charset"]); ok {
				plain, havePlain = text, true
			}
		case f.depth == 0 && !havePlain:
			// Single-part payloads with an unusual type still carry the body.
			if text, ok := decodeBody(part.Body.Data, params["charset"]); ok {
				plain, havePlain = text, true
			}
		}
	}

	switch {
	case haveHTML:
		email.Body = htmlBody
		email.BodyHTML = htmlBody
	case havePlain:
		email.Body = plain
	}
	if havePlain {
		email.BodyText = plain
	} else if haveHTML {
		email.BodyText = HTMLToText(htmlBody)
	}
	email.HasAttachment = len(email.Attachments) > 0 || len(email.InlineImages) > 0
	return email, nil
}

func parseHeaders(email *Email, headers []*gmailv1.MessagePartHeader) {
	var h mail.Header
	for _, hdr := range headers {
		if hdr == nil {
			continue
		}
		h.Add(hdr.Name, hdr.Value)
	}

	email.From = h.Get("From")
	email.To = h.Get("To")
	email.Cc = h.Get("Cc")
	email.Date = h.Get("Date")

	if subject, err := h.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = h.Get("Subject")
	}
	email.FromAddresses = addressList(h, "From")
	email.ToAddresses = addressList(h, "To")

	if email.Date != "" {
		if t, ok := ParseDate(email.Date); ok {
			email.DateParsed = &t
		}
	}
}

func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a == nil || a.Address == "" {
			continue
		}
		out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}

// attachmentOf reports whether part is a downloadable attachment: it needs
// both a filename and an attachment ID.
func attachmentOf(part *gmailv1.MessagePart) (Attachment, bool) {
	if part.Filename == "" || part.Body == nil || part.Body.AttachmentId == "" {
		return Attachment{}, false
	}
	att := Attachment{
		ID:       part.Body.AttachmentId,
		Filename: part.Filename,
		MimeType: part.MimeType,
		Size:     part.Body.Size,
		PartID:   part.PartId,
	}
	if cid := headerValue(part.Headers, "Content-ID"); cid != "" {
		att.ContentID = strings.Trim(strings.TrimSpace(cid), "<>")
	}
	return att, true
}

func headerValue(headers []*gmailv1.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// contentType returns the lower-cased media type and its parameters,
// preferring the part's Content-Type header over its mimeType field.
func contentType(part *gmailv1.MessagePart) (string, map[string]string) {
	if ct := headerValue(part.Headers, "Content-Type"); ct != "" {
		if mediaType, params, err := stdmime.ParseMediaType(ct); err == nil {
			return strings.ToLower(mediaType), params
		}
	}
	return strings.ToLower(part.MimeType), map[string]string{}
}

// decodeBody decodes base64url body data, padded or not, and converts it
// from charset to UTF-8.
func decodeBody(data, charset string) (string, bool) {
	raw, err := DecodeBase64URL(data)
	if err != nil {
		return "", false
	}
	return decodeCharset(raw, charset), true
}

// DecodeBase64URL decodes base64url data with or without padding. Data in
// the standard alphabet is accepted as well.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, stdErr := base64.RawStdEncoding.DecodeString(s); stdErr == nil {
		return b, nil
	}
	return nil, err
}

// dateLayouts are tried after the RFC 5322 parser rejects a Date header.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
}

// ParseDate parses a Date header value. It returns false when no known
// layout matches.
func ParseDate(s string) (time.Time, bool) {
	var h mail.Header
	h.Set("Date", s)
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t, true
	}

	s = strings.Join(strings.Fields(s), " ")
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
