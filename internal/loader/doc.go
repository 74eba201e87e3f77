// Package loader resolves source locators into documents for sandbox contexts.
//
// Supported schemes:
//   - http, https: fetched through resty over a retrying transport, guarded by
//     a per-host circuit breaker and a shared rate limiter
//   - file: read from disk, subject to the configured glob allow-list
//   - asar: treated as a file path (unpacked archives only)
//
// Each sandbox context owns a Session with its own cookie jar, so contexts do
// not observe one another's cookies.
package loader
