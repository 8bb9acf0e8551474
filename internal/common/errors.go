package common

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the repository and transport layers.
// Check with errors.Is; resource errors all wrap ErrNotFound.
var (
	ErrNotFound = errors.New("not found")

	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)
	ErrResumeNotFound = fmt.Errorf("resume %w", ErrNotFound)
	ErrAgentNotFound  = fmt.Errorf("agent %w", ErrNotFound)
)

// IsNotFound reports whether err wraps any not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
