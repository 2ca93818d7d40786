package gmail

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultQuotaUnitsPerSecond is Gmail's per-user quota.
const DefaultQuotaUnitsPerSecond = 250

// Operation identifies a remote call for quota accounting.
type Operation int

const (
	OpProfile Operation = iota
	OpMessagesList
	OpMessagesGet
	OpAttachmentsGet
	OpHistoryList
)

// Cost returns the quota units consumed by the operation.
func (op Operation) Cost() int {
	switch op {
	case OpProfile:
		return 1
	case OpHistoryList:
		return 2
	case OpMessagesList, OpMessagesGet, OpAttachmentsGet:
		return 5
	default:
		return 5
	}
}

// QuotaLimiter paces calls so the quota units spent per second stay under
// the configured budget.
type QuotaLimiter struct {
	limiter *rate.Limiter
}

// NewQuotaLimiter returns a limiter allowing unitsPerSecond units. A
// non-positive budget disables pacing.
func NewQuotaLimiter(unitsPerSecond float64) *QuotaLimiter {
	if unitsPerSecond <= 0 {
		return &QuotaLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := int(unitsPerSecond)
	if burst < OpMessagesGet.Cost() {
		burst = OpMessagesGet.Cost()
	}
	return &QuotaLimiter{limiter: rate.NewLimiter(rate.Limit(unitsPerSecond), burst)}
}

// Acquire blocks until op may proceed or ctx is done.
func (q *QuotaLimiter) Acquire(ctx context.Context, op Operation) error {
	return q.limiter.WaitN(ctx, op.Cost())
}
