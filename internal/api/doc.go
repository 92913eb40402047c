// Package api provides HTTP client functionality for communicating with the
// MoodMash API. It handles authentication, request/response serialization,
// and automatic retry logic with exponential backoff for transient failures.
//
// The server is an opaque store for ciphertext and public keys. Nothing this
// package sends or receives is ever decrypted here.
//
// # Client Creation
//
// The package provides two ways to create a client:
//
//   - [NewClient]: Struct-based configuration for explicit, type-safe setup.
//   - [New]: Functional options pattern for flexible configuration.
//
// The session token is sent as "Authorization: Bearer <token>" on every
// request. It can be replaced or cleared at any time with [Client.SetToken].
//
// # Retry Behavior
//
// The client automatically retries failed requests with exponential backoff
// and jitter. By default, requests are retried up to 3 times for these HTTP
// status codes:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// A Retry-After header in seconds overrides the computed delay.
//
// POST requests are retried only after 429 Too Many Requests. A message post
// that failed in transit may already be stored, so it is not sent twice.
//
// # Error Handling
//
// Non-2xx responses are returned as [APIError]. Use errors.Is with the
// re-exported sentinels:
//
//	if errors.Is(err, api.ErrUnauthorized) {
//	    // Prompt for sign-in
//	}
//
// A missing public key is not an error: [Client.GetPublicKey] returns nil.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use. Multiple goroutines may call
// methods on a single Client simultaneously.
package api
