package sync

import (
	"errors"
	"fmt"
	"strconv"
)

// CursorKey is the meta key holding the last applied history ID.
const CursorKey = "last_history_id"

var (
	// ErrNoCursor means no cursor has been stored yet.
	ErrNoCursor = errors.New("no history cursor stored")
	// ErrInvalidCursor means the stored cursor is not a positive decimal.
	ErrInvalidCursor = errors.New("invalid history cursor")
)

// ParseCursor decodes a stored cursor value. Zero is rejected: the remote
// never issues it, so it can only come from corruption.
func ParseCursor(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidCursor)
	}
	return v, nil
}

// FormatCursor encodes a cursor for storage.
func FormatCursor(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// readCursor returns the stored cursor, ErrNoCursor, or ErrInvalidCursor.
func (e *Engine) readCursor() (uint64, error) {
	raw, ok, err := e.cache.GetMeta(CursorKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoCursor
	}
	return ParseCursor(raw)
}

// Cursor returns the stored cursor, or zero with ok=false when absent or
// corrupt.
func (e *Engine) Cursor() (uint64, bool) {
	v, err := e.readCursor()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (e *Engine) writeCursor(v uint64) error {
	if v == 0 {
		return fmt.Errorf("%w: refusing to store zero", ErrInvalidCursor)
	}
	return e.cache.SetMeta(CursorKey, FormatCursor(v))
}

// advanceCursor stores next only if it moves the cursor forward.
func (e *Engine) advanceCursor(current, next uint64) error {
	if next <= current {
		return nil
	}
	return e.writeCursor(next)
}
