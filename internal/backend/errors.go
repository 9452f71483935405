package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes callers branch on.
var (
	// ErrAuthExpired maps HTTP 401: the cached credential is stale. The
	// client never retries; callers must drop the credential and surface
	// an auth-required condition.
	ErrAuthExpired = errors.New("backend: credential expired")

	// ErrNotFound maps HTTP 404 on conversation or message lookups. The
	// server no longer knows the id, so local identifiers referencing it
	// must be reset.
	ErrNotFound = errors.New("backend: not found")
)

// APIError describes a non-2xx response outside the sentinel cases.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("backend: unexpected status %d: %s", e.Status, e.Message)
}
