// Package middleware provides the HTTP middleware chain for the collection
// viewer API.
//
// It includes:
//   - Panic recovery with a JSON error response
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with cardinality-safe path labels
//   - Response compression (gzip) for JSON bodies
//   - Bearer-token authentication with a first-run bypass
package middleware
