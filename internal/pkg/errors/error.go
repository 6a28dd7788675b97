package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnreachable = errors.New("identity provider unreachable")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrNoSession           = errors.New("no active session")
	ErrOffline             = errors.New("network offline")
	ErrSyncFailed          = errors.New("replica sync failed")
	ErrStoreClosed         = errors.New("local store closed")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
