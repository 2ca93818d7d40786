package sync

import (
	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/store"
)

// toCached maps a full remote message onto its cache row. Header values
// are normalized to UTF-8; the remote sometimes passes raw 8-bit bytes
// through.
func toCached(msg *gmail.Message, ref gmail.MessageRef, syncedHistoryID *uint64) *store.CachedMessage {
	cm := &store.CachedMessage{
		MessageID:       msg.Id,
		ThreadID:        msg.ThreadId,
		LabelIDs:        msg.LabelIds,
		Snippet:         mime.EnsureUTF8(msg.Snippet),
		InternalDate:    msg.InternalDate,
		SyncedHistoryID: syncedHistoryID,
	}
	if cm.MessageID == "" {
		cm.MessageID = ref.ID
	}
	if cm.ThreadID == "" {
		cm.ThreadID = ref.ThreadID
	}
	if msg.Payload != nil {
		cm.Headers = make([]store.Header, 0, len(msg.Payload.Headers))
		for _, h := range msg.Payload.Headers {
			if h == nil {
				continue
			}
			cm.Headers = append(cm.Headers, store.Header{Name: h.Name, Value: mime.EnsureUTF8(h.Value)})
		}
	}
	return cm
}
