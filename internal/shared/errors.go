package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTenantRequired occurs when an operation runs without a resolved tenant.
	ErrTenantRequired = errors.New("tenant required")
	// ErrInvalidToken indicates a rejected API token.
	ErrInvalidToken = errors.New("invalid api token")
)
