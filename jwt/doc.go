// Package jwt issues and verifies short-lived access tokens.
//
// An access token asserts an account id and an absolute expiry. Verification
// is signature plus expiry only: there is no session lookup, so a token stays
// valid until it expires. Key material is injected through [Config]; nothing
// here reads global state.
//
// Verification failures are reduced to three sentinels so that callers can
// decide on refresh without inspecting library errors:
//
//   - [ErrMalformed] when the token cannot be parsed or lacks required claims.
//   - [ErrInvalidSignature] when the signature, algorithm, key id, issuer or
//     audience does not match.
//   - [ErrExpired] when the signature is valid but the expiry has passed.
package jwt
