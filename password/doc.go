// Package password hashes and verifies account passwords with bcrypt.
//
// # Output format
//
// Hashes are standard bcrypt strings (`$2a$10$...`) with a per-hash random
// salt, so two accounts with the same password never share a hash. The
// default cost is 10. [Bcrypt.NeedsRehash] reports hashes produced with a
// different cost so the caller can rehash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the length policy that bcrypt
// itself imposes (8 to 72 bytes). Storage of hashes belongs to the account
// provider.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other sessionauth package.
//   - Log plaintext passwords.
package password
