// Package apierrors provides shared error types for the MoodMash client.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingToken is returned when no session token is provided.
	ErrMissingToken = errors.New("session token is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrUnauthorized is returned when the session token is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired session token")

	// ErrForbidden is returned when the caller may not access the resource.
	ErrForbidden = errors.New("access forbidden")

	// ErrPublicKeyNotFound is returned when a user has not published a public key.
	ErrPublicKeyNotFound = errors.New("public key not found")

	// ErrPreferencesNotFound is returned when the user has no stored preferences.
	ErrPreferencesNotFound = errors.New("preferences not found")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ResourceType indicates which type of resource an error relates to.
type ResourceType string

const (
	// ResourceUnknown indicates the resource type is not specified.
	ResourceUnknown ResourceType = ""
	// ResourcePublicKey indicates the error relates to a user's public key.
	ResourcePublicKey ResourceType = "public_key"
	// ResourcePreferences indicates the error relates to encrypted preferences.
	ResourcePreferences ResourceType = "preferences"
	// ResourceMessage indicates the error relates to secure messages.
	ResourceMessage ResourceType = "message"
)

// APIError represents an HTTP error from the MoodMash API.
type APIError struct {
	StatusCode   int
	Message      string
	RequestID    string
	ResourceType ResourceType
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401:
		return target == ErrUnauthorized
	case 403:
		return target == ErrForbidden
	case 404:
		switch e.ResourceType {
		case ResourcePublicKey:
			return target == ErrPublicKeyNotFound
		case ResourcePreferences:
			return target == ErrPreferencesNotFound
		case ResourceMessage:
			return false
		default:
			return target == ErrPublicKeyNotFound || target == ErrPreferencesNotFound
		}
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// WithResourceType returns a copy of the error with the resource type set.
// If the error is not an *APIError, it is returned unchanged.
func WithResourceType(err error, rt ResourceType) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode:   apiErr.StatusCode,
			Message:      apiErr.Message,
			RequestID:    apiErr.RequestID,
			ResourceType: rt,
		}
	}
	return err
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}
