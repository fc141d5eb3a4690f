// Package accounts provides [sessionauth.AccountProvider] implementations:
// [Postgres] backed by a pgx pool and [Memory] for tests and local
// development.
//
// Both enforce username uniqueness case-sensitively and email uniqueness
// case-insensitively, and report violations with
// [sessionauth.ErrDuplicateUsername] and [sessionauth.ErrDuplicateEmail].
// Neither hashes passwords.
package accounts
