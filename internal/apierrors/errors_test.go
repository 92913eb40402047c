package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "status code only",
			err:      &APIError{StatusCode: 500},
			expected: "API error 500",
		},
		{
			name:     "with message",
			err:      &APIError{StatusCode: 400, Message: "bad request"},
			expected: "API error 400: bad request",
		},
		{
			name:     "with request ID",
			err:      &APIError{StatusCode: 500, RequestID: "req-123"},
			expected: "API error 500 (request_id: req-123)",
		},
		{
			name:     "with message and request ID",
			err:      &APIError{StatusCode: 503, Message: "service unavailable", RequestID: "req-456"},
			expected: "API error 503: service unavailable (request_id: req-456)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		target   error
		expected bool
	}{
		{
			name:     "401 matches ErrUnauthorized",
			err:      &APIError{StatusCode: 401},
			target:   ErrUnauthorized,
			expected: true,
		},
		{
			name:     "401 does not match ErrPublicKeyNotFound",
			err:      &APIError{StatusCode: 401},
			target:   ErrPublicKeyNotFound,
			expected: false,
		},
		{
			name:     "403 matches ErrForbidden",
			err:      &APIError{StatusCode: 403},
			target:   ErrForbidden,
			expected: true,
		},
		{
			name:     "404 public key resource matches ErrPublicKeyNotFound",
			err:      &APIError{StatusCode: 404, ResourceType: ResourcePublicKey},
			target:   ErrPublicKeyNotFound,
			expected: true,
		},
		{
			name:     "404 public key resource does not match ErrPreferencesNotFound",
			err:      &APIError{StatusCode: 404, ResourceType: ResourcePublicKey},
			target:   ErrPreferencesNotFound,
			expected: false,
		},
		{
			name:     "404 preferences resource matches ErrPreferencesNotFound",
			err:      &APIError{StatusCode: 404, ResourceType: ResourcePreferences},
			target:   ErrPreferencesNotFound,
			expected: true,
		},
		{
			name:     "404 message resource matches nothing",
			err:      &APIError{StatusCode: 404, ResourceType: ResourceMessage},
			target:   ErrPublicKeyNotFound,
			expected: false,
		},
		{
			name:     "404 without resource type matches ErrPublicKeyNotFound",
			err:      &APIError{StatusCode: 404},
			target:   ErrPublicKeyNotFound,
			expected: true,
		},
		{
			name:     "429 matches ErrRateLimited",
			err:      &APIError{StatusCode: 429},
			target:   ErrRateLimited,
			expected: true,
		},
		{
			name:     "500 does not match any sentinel",
			err:      &APIError{StatusCode: 500},
			target:   ErrUnauthorized,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Is(tt.target)
			if got != tt.expected {
				t.Errorf("Is(%v) = %v, want %v", tt.target, got, tt.expected)
			}
		})
	}
}

func TestWithResourceType(t *testing.T) {
	wrapped := fmt.Errorf("get key: %w", &APIError{StatusCode: 404, Message: "nope"})

	err := WithResourceType(wrapped, ResourcePublicKey)
	if !errors.Is(err, ErrPublicKeyNotFound) {
		t.Error("expected ErrPublicKeyNotFound after tagging")
	}
	if errors.Is(err, ErrPreferencesNotFound) {
		t.Error("tagged error should not match ErrPreferencesNotFound")
	}

	plain := errors.New("plain")
	if WithResourceType(plain, ResourcePublicKey) != plain {
		t.Error("non-API errors should be returned unchanged")
	}
	if WithResourceType(nil, ResourcePublicKey) != nil {
		t.Error("nil should stay nil")
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Err: inner, URL: "https://api.moodmash.app", Attempt: 2}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	if err.Error() != "network error: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}
