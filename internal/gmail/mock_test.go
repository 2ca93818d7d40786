package gmail

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMockAPI_ListMessagesPaging(t *testing.T) {
	m := NewMockAPI()
	m.AddMessage(
		NewTestMessage("a", "t1", 3000, "INBOX"),
		NewTestMessage("b", "t1", 2000, "INBOX", "IMPORTANT"),
		NewTestMessage("c", "t2", 1000, "INBOX"),
		NewTestMessage("d", "t3", 4000, "SENT"),
	)
	ctx := context.Background()

	var ids []string
	token := ""
	pages := 0
	for {
		resp, err := m.ListMessages(ctx, "INBOX", 2, token)
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		pages++
		for _, ref := range resp.Messages {
			ids = append(ids, ref.ID)
		}
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	if pages != 2 {
		t.Errorf("pages = %d, want 2", pages)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}
