// Package keychaincache holds the process-wide cache of loaded credentials.
//
// Each identity (provider + credential kind) maps to exactly one entry, which
// is either empty, a cached record, an absence marker or an invalidated
// record. Table operations are serialized by one mutex that is never held
// across I/O; backend writes are ordered by a second mutex.
//
// Records read from the secure store are written through to a Backend.
// Records from the credentials file are not, so each cold start looks at the
// file again. Backends:
//
//   - KeyringBackend: an application-owned OS keyring item, read on cold start
//   - MemoryBackend: an isolated in-memory instance for tests
//
// Choosing the backend is a configuration switch; cache semantics are the
// same for both.
package keychaincache
