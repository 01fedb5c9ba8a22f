// Package tokenstore provides the raw credential sources consulted by the loader.
//
// Supports three sources with different cost and prompting behavior:
//   - Env: token override taken from a caller-supplied environment (free, never cached)
//   - File: the credentials JSON file, with stat fingerprints for change tracking
//     and atomic writes with secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential
//     Manager, Linux Secret Service), which may prompt the user
//
// Only the keyring source can prompt. It reports authoritative absence instead
// of prompting when the caller disallows prompts.
package tokenstore
