// Package promptgate guarantees that at most one secure-store read, and so at
// most one keychain prompt, is in flight per credential identity.
//
// The first caller for an identity becomes the owner of a ticket and performs
// the read; callers arriving while it runs join the ticket and receive the
// owner's record or error. The owner records the outcome in the cache before
// the ticket is released, so a caller arriving afterwards finds the cache warm
// instead of starting a second read.
package promptgate
