// Package sessionauth manages account sessions for an HTTP API: signup and
// login with bcrypt-hashed passwords, short-lived JWT access tokens, and
// long-lived opaque refresh tokens kept per account in Redis.
//
// An [Engine] is built once through [Builder] and is safe for concurrent use:
//
//	engine, err := sessionauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAccountProvider(accounts.NewMemory()).
//		Build()
//
// Accounts are persisted by an [AccountProvider] (see package accounts for
// Postgres and in-memory implementations). Sessions live in Redis under
// <prefix>:<accountID>, one hash field per refresh-token hash; the plaintext
// refresh token is only ever returned to the caller. An account may hold any
// number of sessions, and logging in on one device never ends another.
//
// [Engine.Authenticate] verifies an access token without any I/O. A session
// revoked by [Engine.Logout] or [Engine.LogoutAll] therefore stops further
// refreshes, but an access token already issued stays valid until it
// expires.
//
// Packages middleware and httpapi expose the engine over HTTP; package
// client is the matching Go client with transparent token refresh.
package sessionauth
