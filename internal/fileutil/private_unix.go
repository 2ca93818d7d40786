//go:build !windows

// Package fileutil creates files and directories readable only by the
// current user. The cache, the keyring and downloaded attachments all hold
// mailbox content.
//
// On Unix these are thin wrappers around os.* with owner-only modes. On
// Windows a DACL restricting access to the current user is applied as well.
package fileutil

import "os"

// PrivateDir creates path and any missing parents with mode 0700.
// Existing directories keep their mode.
func PrivateDir(path string) error {
	return os.MkdirAll(path, 0o700)
}

// CreatePrivateTemp creates a new temporary file in dir, mode 0600.
func CreatePrivateTemp(dir, pattern string) (*os.File, error) {
	return os.CreateTemp(dir, pattern)
}
