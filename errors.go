package moodmash

import (
	"errors"
	"fmt"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/apierrors"
	"github.com/moodmash/client-go/internal/crypto"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingToken is returned when an authenticated call is made without
	// a session token.
	ErrMissingToken = apierrors.ErrMissingToken

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = apierrors.ErrClientClosed

	// ErrUnauthorized is returned when the session token is invalid or expired.
	ErrUnauthorized = apierrors.ErrUnauthorized

	// ErrForbidden is returned when the caller may not access a resource.
	ErrForbidden = apierrors.ErrForbidden

	// ErrPublicKeyNotFound is returned when a user has not published a public key.
	ErrPublicKeyNotFound = apierrors.ErrPublicKeyNotFound

	// ErrPreferencesNotFound is returned when no preferences are stored.
	ErrPreferencesNotFound = apierrors.ErrPreferencesNotFound

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = apierrors.ErrRateLimited

	// ErrMissingUserID is returned when a client or key manager is created
	// without a user ID.
	ErrMissingUserID = errors.New("user ID is required")

	// ErrNotAuthenticated is returned when the local user is signed out.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotInitialized is returned when the key manager is not bound to a user.
	ErrNotInitialized = errors.New("key manager is not initialized")

	// ErrSaltUnavailable is returned when a session key is derived before
	// any keys are set.
	ErrSaltUnavailable = errors.New("salt not available, set keys first")

	// ErrKeysUnavailable is returned when an operation needs the user's key
	// pair and none is set.
	ErrKeysUnavailable = errors.New("no encryption keys set")

	// ErrInvalidKeyPair is returned when a public key does not belong to the
	// secret key it is stored with.
	ErrInvalidKeyPair = errors.New("public key does not match secret key")

	// ErrEncryptionKeyUnavailable is returned when the session encryption key
	// is needed and the session is locked. Callers should prompt for the
	// password.
	ErrEncryptionKeyUnavailable = errors.New("encryption key not available, password required")

	// ErrRecipientUnavailable is returned when the peer has not published a
	// public key. It is terminal for the conversation.
	ErrRecipientUnavailable = errors.New("recipient has not set up encryption")

	// ErrMissingSenderPublicKey is returned when a message cannot be verified
	// because no sender public key is known.
	ErrMissingSenderPublicKey = crypto.ErrMissingSenderPublicKey

	// ErrNotReady is returned when a message is sent before the conversation
	// is ready.
	ErrNotReady = errors.New("conversation is not ready")

	// ErrStorage is returned when local key storage cannot be read or written.
	ErrStorage = errors.New("key storage error")

	// ErrInvalidExport is returned when exported key data is invalid.
	ErrInvalidExport = errors.New("invalid key export")
)

// ResourceType indicates which type of resource an API error relates to.
type ResourceType = apierrors.ResourceType

// Resource types carried by APIError.
const (
	ResourceUnknown     = apierrors.ResourceUnknown
	ResourcePublicKey   = apierrors.ResourcePublicKey
	ResourcePreferences = apierrors.ResourcePreferences
	ResourceMessage     = apierrors.ResourceMessage
)

// MoodMashError is implemented by all SDK errors.
type MoodMashError interface {
	error
	MoodMashError() // marker method
}

// APIError represents an HTTP error from the MoodMash API.
type APIError struct {
	StatusCode   int
	Message      string
	RequestID    string // if returned by server
	ResourceType ResourceType
}

func (e *APIError) Error() string {
	return e.internal().Error()
}

// MoodMashError implements the MoodMashError interface.
func (e *APIError) MoodMashError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	return e.internal().Is(target)
}

func (e *APIError) internal() *apierrors.APIError {
	return &apierrors.APIError{
		StatusCode:   e.StatusCode,
		Message:      e.Message,
		RequestID:    e.RequestID,
		ResourceType: e.ResourceType,
	}
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

// MoodMashError implements the MoodMashError interface.
func (e *NetworkError) MoodMashError() {}

// ConfigurationError reports a call made in the wrong order or with missing
// key material. It indicates a caller bug, not tampering.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// MoodMashError implements the MoodMashError interface.
func (e *ConfigurationError) MoodMashError() {}

// RecipientUnavailableError reports that a peer has no published public key.
type RecipientUnavailableError struct {
	RecipientID string
	Err         error // lookup failure, if any
}

func (e *RecipientUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recipient %s unavailable: %v", e.RecipientID, e.Err)
	}
	return fmt.Sprintf("recipient %s has not set up encryption", e.RecipientID)
}

// Unwrap returns the underlying error.
func (e *RecipientUnavailableError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RecipientUnavailableError) Is(target error) bool {
	return target == ErrRecipientUnavailable
}

// MoodMashError implements the MoodMashError interface.
func (e *RecipientUnavailableError) MoodMashError() {}

// StorageError reports a failure of the local key store.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// MoodMashError implements the MoodMashError interface.
func (e *StorageError) MoodMashError() {}

// wrapError converts internal API errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode:   apiErr.StatusCode,
			Message:      apiErr.Message,
			RequestID:    apiErr.RequestID,
			ResourceType: apiErr.ResourceType,
		}
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{
			Err:     netErr.Err,
			URL:     netErr.URL,
			Attempt: netErr.Attempt,
		}
	}

	return err
}

func configError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}
