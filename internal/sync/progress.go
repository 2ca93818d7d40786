package sync

import "github.com/wesm/mailmirror/internal/labels"

// Progress reports enumeration progress to the caller.
type Progress interface {
	// OnBucketStart is called before a label bucket is listed.
	OnBucketStart(bucket labels.Label)

	// OnProgress is called after each listing page is fetched and stored.
	OnProgress(listed, written, failed int64)

	// OnComplete is called when a bootstrap, recovery or resync finishes.
	OnComplete(summary *Summary)
}

// NullProgress is a no-op progress reporter.
type NullProgress struct{}

func (NullProgress) OnBucketStart(bucket labels.Label)        {}
func (NullProgress) OnProgress(listed, written, failed int64) {}
func (NullProgress) OnComplete(summary *Summary)              {}
