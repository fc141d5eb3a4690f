// Package middleware exposes net/http adapters that authenticate requests
// against a [sessionauth.Engine].
//
// # Guards
//
//   - [RequireAccess] verifies the x-access-token header. Stateless, no
//     Redis call.
//   - [RequireRefresh] reads x-refresh-token and _id and runs a refresh
//     against the session store.
//
// Both inject their result into the request context; read it back with
// [AccountIDFromContext] and [RefreshResultFromContext].
//
// This package translates HTTP semantics into Engine calls. It does not
// parse tokens or touch Redis itself, and it never changes session state
// except through the refresh it is asked to perform.
package middleware
