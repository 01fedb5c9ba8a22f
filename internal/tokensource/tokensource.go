package tokensource

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/claudine-credentials/internal/credentials"
	"github.com/florianilch/claudine-credentials/internal/tokenstore"
)

// Loader resolves credentials. *loader.Loader satisfies it.
type Loader interface {
	Load(ctx context.Context, env map[string]string, allowPrompt bool) (*credentials.Record, error)
}

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*TokenSource)

// WithPrompt allows Token to trigger an interactive keychain read.
// Defaults to false.
func WithPrompt(allow bool) TokenSourceOption {
	return func(ts *TokenSource) {
		ts.allowPrompt = allow
	}
}

// WithTimeout bounds each Token call. Zero disables the bound.
func WithTimeout(timeout time.Duration) TokenSourceOption {
	return func(ts *TokenSource) {
		ts.timeout = timeout
	}
}

// WithEnviron sets the environment consulted for the token override.
// If not provided, os.Environ is used.
func WithEnviron(environ func() []string) TokenSourceOption {
	return func(ts *TokenSource) {
		ts.environ = environ
	}
}

// TokenSource serves bearer tokens from a Loader.
type TokenSource struct {
	loader      Loader
	allowPrompt bool
	timeout     time.Duration
	environ     func() []string
}

// Compile-time check to ensure TokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a TokenSource backed by loader.
func NewTokenSource(loader Loader, opts ...TokenSourceOption) *TokenSource {
	ts := &TokenSource{
		loader:  loader,
		timeout: 30 * time.Second,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Token returns the current access token. The loader's cache makes repeated
// calls cheap, so no additional reuse layer is needed.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()
	if ts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ts.timeout)
		defer cancel()
	}

	rec, err := ts.loader.Load(ctx, tokenstore.EnvironMap(ts.environ()), ts.allowPrompt)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return rec.OAuth2Token(), nil
}
