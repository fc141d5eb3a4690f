// Package session provides Redis-backed persistence of refresh-token
// sessions.
//
// # Layout
//
// Every account owns one Redis hash, `<prefix>:<accountID>`. Each field is
// the hex SHA-256 of a refresh token and its value is the absolute expiry in
// unix seconds. An account may hold any number of sessions, one per device.
// The key TTL is kept at least as far out as the latest expiry so that
// abandoned accounts vacate Redis on their own.
//
// # Concurrency
//
// Every mutation is a single Redis command or a Lua script, so concurrent
// logins on the same account never overwrite each other and a rotation is a
// compare-and-swap. Expired fields are removed inside the lookup script that
// discovers them.
//
// # What this package must NOT do
//
//   - Import sessionauth or jwt (no upward imports).
//   - Store plaintext refresh tokens.
//   - Decide authentication policy.
package session
