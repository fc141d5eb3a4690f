// Package rate provides Redis-backed fixed-window counters for login
// throttling and password-reset request limits.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:  login failures per username
//   - ali: login failures per IP
//   - arr: reset requests per email
//
// # What this package must NOT do
//
//   - Decide which operations are throttled; the Engine does.
//   - Be imported outside the sessionauth module.
package rate
