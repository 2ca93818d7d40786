// Package mcp exposes the mirrored mailbox to MCP clients over stdio.
package mcp

import (
	"context"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/query"
)

// Tool name constants.
const (
	ToolListMessages  = "list_messages"
	ToolGetMessage    = "get_message"
	ToolGetAttachment = "get_attachment"
	ToolListThreads   = "list_threads"
	ToolLabelCounts   = "label_counts"
	ToolTodayCounts   = "today_counts"
)

// Reader is the read surface the tools need. *query.Facade implements it.
type Reader interface {
	ListPage(filter string, pageSize int, pageToken string) (*query.Page, error)
	Threads() ([]query.ThreadSummary, error)
	FetchFullMessageLazy(ctx context.Context, id string) (*mime.Email, error)
	StreamAttachment(ctx context.Context, messageID, attachmentID string, w io.Writer) (int64, error)
	LabelCounts() ([]query.LabelCount, error)
	TodayCounts() (*query.TodayCounts, error)
}

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

func withOffset() mcp.ToolOption {
	return mcp.WithNumber("offset",
		mcp.Description("Number of results to skip for pagination (default 0)"),
	)
}

// NewServer builds the MCP server with every mailbox tool registered.
func NewServer(reader Reader, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"mailmirror",
		version,
		server.WithToolCapabilities(false),
	)

	h := &handlers{reader: reader}

	s.AddTool(listMessagesTool(), h.listMessages)
	s.AddTool(getMessageTool(), h.getMessage)
	s.AddTool(getAttachmentTool(), h.getAttachment)
	s.AddTool(listThreadsTool(), h.listThreads)
	s.AddTool(labelCountsTool(), h.labelCounts)
	s.AddTool(todayCountsTool(), h.todayCounts)
	return s
}

// Serve serves the mailbox tools over stdio. It blocks until stdin is
// closed or the context is cancelled.
func Serve(ctx context.Context, reader Reader, version string) error {
	stdio := server.NewStdioServer(NewServer(reader, version))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func listMessagesTool() mcp.Tool {
	return mcp.NewTool(ToolListMessages,
		mcp.WithDescription("List cached messages, newest first. Trashed messages are hidden unless TRASH is requested."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("label",
			mcp.Description("Comma-separated label IDs (e.g. 'INBOX' or 'STARRED,IMPORTANT'); empty lists everything"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Messages per page (default 20)"),
		),
		mcp.WithString("page_token",
			mcp.Description("nextPageToken from a previous call"),
		),
	)
}

func getMessageTool() mcp.Tool {
	return mcp.NewTool(ToolGetMessage,
		mcp.WithDescription("Fetch a full message from the mailbox, including body and attachment IDs."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Message ID"),
		),
	)
}

func getAttachmentTool() mcp.Tool {
	return mcp.NewTool(ToolGetAttachment,
		mcp.WithDescription("Download an attachment as base64. Use get_message first to find attachment IDs."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Message ID"),
		),
		mcp.WithString("attachment_id",
			mcp.Required(),
			mcp.Description("Attachment ID (from get_message response)"),
		),
	)
}

func listThreadsTool() mcp.Tool {
	return mcp.NewTool(ToolListThreads,
		mcp.WithDescription("List cached conversations, most recent activity first."),
		mcp.WithReadOnlyHintAnnotation(true),
		withLimit("20"),
		withOffset(),
	)
}

func labelCountsTool() mcp.Tool {
	return mcp.NewTool(ToolLabelCounts,
		mcp.WithDescription("Count cached messages per label, with unread counts."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func todayCountsTool() mcp.Tool {
	return mcp.NewTool(ToolTodayCounts,
		mcp.WithDescription("Count messages received today and how many of them are unread."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
