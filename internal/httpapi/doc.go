// Package httpapi provides the HTTP request handlers for the collection
// viewer API.
//
// It includes handlers for:
//   - Collection listing, search, navigation, and thumbnails
//   - Background job submission and tracking
//   - Index rebuild and verification
//   - Dashboard statistics and the activity feed
//   - Login, token refresh, and logout
//   - Health checks and build information
//
// Handlers depend on narrow store interfaces plus the collection index
// engine, and NewRouter wraps the route table in the shared middleware
// chain. Bearer auth stays off until the first user account exists so a
// fresh install can be bootstrapped through the API.
package httpapi
