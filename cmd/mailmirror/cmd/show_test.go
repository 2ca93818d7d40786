package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/query"
)

func TestWriteMessageText(t *testing.T) {
	var buf bytes.Buffer
	writeMessageText(&buf, &mime.Email{
		ID:       "m1",
		ThreadID: "t1",
		From:     "Alice <alice@example.com>",
		To:       "me@example.com",
		Subject:  "Quarterly \x1b[31mreport",
		LabelIDs: []string{"INBOX", "UNREAD"},
		Body:     "<p>Hello <b>there</b></p>",
		Attachments: []mime.Attachment{
			{ID: "att1", Filename: "report.pdf", MimeType: "application/pdf", Size: 2048},
		},
	})
	got := buf.String()
	for _, want := range []string{
		"Message: m1 (thread t1)",
		"Subject: Quarterly [31mreport",
		"Labels:  INBOX, UNREAD",
		"Hello there",
		"att1  report.pdf (application/pdf, 2048 bytes)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Cc:") {
		t.Error("empty Cc should be omitted")
	}
}

func TestRemoteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no session", fmt.Errorf("%w: boom", query.ErrNoSession), "--token"},
		{"not found", fmt.Errorf("fetch: %w", &gmail.NotFoundError{Path: "/x"}), "message m1 not found"},
		{"auth", &gmail.AuthError{Path: "/x"}, "credential was rejected"},
		{"other", errors.New("boom"), "message m1: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := remoteErr("message m1", tt.err)
			if !strings.Contains(got.Error(), tt.want) {
				t.Errorf("remoteErr = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
