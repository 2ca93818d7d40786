package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/query"
)

const (
	maxLimit          = 1000
	maxAttachmentSize = 50 * 1024 * 1024 // 50MB
)

var errAttachmentTooLarge = fmt.Errorf("attachment too large (max %d bytes)", maxAttachmentSize)

type handlers struct {
	reader Reader
}

// stringArg extracts a required non-blank string from the arguments map.
func stringArg(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}

// remoteError turns a remote failure into a tool error message.
func remoteError(what string, err error) *mcp.CallToolResult {
	var notFound *gmail.NotFoundError
	switch {
	case errors.Is(err, query.ErrNoSession):
		return mcp.NewToolResultError("no mailbox session: start `mailmirror serve` and push a credential, or pass --token")
	case errors.As(err, &notFound):
		return mcp.NewToolResultError(what + " not found")
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", what, err))
	}
}

func (h *handlers) listMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	label, _ := args["label"].(string)
	token, _ := args["page_token"].(string)
	page, err := h.reader.ListPage(label, limitArg(args, "page_size", 0), token)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return jsonResult(page)
}

func (h *handlers) getMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := stringArg(req.GetArguments(), "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	email, err := h.reader.FetchFullMessageLazy(ctx, id)
	if err != nil {
		return remoteError("message", err), nil
	}
	return jsonResult(email)
}

// cappedBuffer refuses writes past maxAttachmentSize.
type cappedBuffer struct {
	bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > maxAttachmentSize {
		return 0, errAttachmentTooLarge
	}
	return b.Buffer.Write(p)
}

func (h *handlers) getAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	msgID, err := stringArg(args, "message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	attID, err := stringArg(args, "attachment_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var buf cappedBuffer
	n, err := h.reader.StreamAttachment(ctx, msgID, attID, &buf)
	if errors.Is(err, errAttachmentTooLarge) {
		return mcp.NewToolResultError(errAttachmentTooLarge.Error()), nil
	}
	if err != nil {
		return remoteError("attachment", err), nil
	}

	resp := struct {
		MessageID     string `json:"message_id"`
		AttachmentID  string `json:"attachment_id"`
		Size          int64  `json:"size"`
		ContentBase64 string `json:"content_base64"`
	}{
		MessageID:     msgID,
		AttachmentID:  attID,
		Size:          n,
		ContentBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	return jsonResult(resp)
}

func (h *handlers) listThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	limit := limitArg(args, "limit", 20)
	offset := limitArg(args, "offset", 0)

	threads, err := h.reader.Threads()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("threads failed: %v", err)), nil
	}
	if offset > len(threads) {
		offset = len(threads)
	}
	end := min(offset+limit, len(threads))
	return jsonResult(threads[offset:end])
}

func (h *handlers) labelCounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := h.reader.LabelCounts()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(counts)
}

func (h *handlers) todayCounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := h.reader.TodayCounts()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(counts)
}

// limitArg extracts a non-negative integer limit from a map, with a default.
// JSON numbers arrive as float64. Clamps to maxLimit to prevent excessive
// result sets.
func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
