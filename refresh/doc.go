// Package refresh generates and hashes opaque refresh tokens.
//
// # Token format
//
// A refresh token is 64 bytes from crypto/rand, hex-encoded (128 lowercase
// characters). It carries no structure and no identity; the account id travels
// beside it in the `_id` header. Tokens are never stored in plaintext: the
// session store keys each session by [Hash] of the token.
//
// # Architecture boundaries
//
// This package owns generation, hashing and structural validation only.
// Expiry, rotation and revocation belong to the session store and the Engine.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O beyond the entropy source.
//   - Import sessionauth, jwt, or session.
package refresh
