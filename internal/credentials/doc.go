// Package credentials defines the immutable OAuth credential record shared by
// every credential source, together with the decoder for the JSON document that
// both the credentials file and the keychain item carry:
//
//	{
//	  "claudeAiOauth": {
//	    "accessToken": "...",
//	    "expiresAt": 1767225600000,
//	    "scopes": ["user:profile", "user:inference"]
//	  }
//	}
//
// Errors are classified into three kinds: *DecodeError for malformed content,
// ErrSecureStoreUnavailable when the keychain could not be read, and
// ErrCredentialUnavailable when no source produced a valid, unexpired record.
package credentials
