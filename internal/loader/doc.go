// Package loader reconciles the credential sources into one record per identity.
//
// A load walks NoCache → FileCheck → {CacheHit | KeychainSingleFlight} →
// Cached | Failed. The file is re-decoded only when its size or modification
// time changes, and the secure store is consulted through promptgate so that
// concurrent loads never stack keychain prompts.
package loader
