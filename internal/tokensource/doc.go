// Package tokensource exposes loaded credentials as an oauth2.TokenSource.
//
// Use NewTokenSource to plug a loader into oauth2.Transport or oauth2.NewClient:
//
//	ts := tokensource.NewTokenSource(credentialLoader)
//	client := oauth2.NewClient(ctx, ts)
//
// # Prompting
//
// Token has no context and no way to ask the caller whether a keychain prompt
// is acceptable, so both are fixed at construction time:
//
//	ts := tokensource.NewTokenSource(
//		credentialLoader,
//		tokensource.WithPrompt(true),
//		tokensource.WithTimeout(2*time.Minute),
//	)
package tokensource
