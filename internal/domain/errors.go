package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransferFailed   = errors.New("transfer failed")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrCancelled        = errors.New("cancelled")
	ErrNotInstalled     = errors.New("not installed")
	ErrNotAvailable     = errors.New("version not available")
	ErrInvalidName      = errors.New("invalid file name")
	ErrInProgress       = errors.New("install already in progress")
)

// ErrIncompleteTransfer is a byte-count mismatch against the declared length.
// It matches ErrTransferFailed as well, since both are retried the same way.
var ErrIncompleteTransfer = fmt.Errorf("incomplete transfer: %w", ErrTransferFailed)

// Retryable reports whether a whole-transfer attempt that failed with err may be repeated.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}
	return errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrChecksumMismatch)
}
