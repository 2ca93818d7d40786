package gmail

import "fmt"

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// AuthError indicates the server rejected the bearer credential (401).
type AuthError struct {
	Path string
	Body string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized (401): %s", e.Path)
}

// CursorInvalidError indicates the history endpoint rejected the start
// cursor, usually because it fell out of the retention window.
type CursorInvalidError struct {
	StartHistoryID uint64
	Body           string
}

func (e *CursorInvalidError) Error() string {
	return fmt.Sprintf("history cursor %d rejected", e.StartHistoryID)
}

// StatusError is any other non-2xx response that was not retried.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Path)
}

// RetriesExhaustedError is returned when every attempt got a retryable status.
type RetriesExhaustedError struct {
	Attempts   int
	LastStatus int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts (last status %d)", e.Attempts, e.LastStatus)
}
