package api

import "github.com/moodmash/client-go/internal/apierrors"

// Error types shared with the public package.
type (
	APIError     = apierrors.APIError
	NetworkError = apierrors.NetworkError
	ResourceType = apierrors.ResourceType
)

// Sentinel errors re-exported for callers of this package.
var (
	ErrMissingToken        = apierrors.ErrMissingToken
	ErrUnauthorized        = apierrors.ErrUnauthorized
	ErrForbidden           = apierrors.ErrForbidden
	ErrPublicKeyNotFound   = apierrors.ErrPublicKeyNotFound
	ErrPreferencesNotFound = apierrors.ErrPreferencesNotFound
	ErrRateLimited         = apierrors.ErrRateLimited
)
