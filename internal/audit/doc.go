// Package audit implements async event dispatching for security-relevant
// operations such as login, refresh, logout and password reset.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer,
//     slog, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or
//     block-if-full semantics.
//   - [Event] is the structured audit record.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Import sessionauth or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
