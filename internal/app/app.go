package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/florianilch/claudine-credentials/internal/credentials"
	"github.com/florianilch/claudine-credentials/internal/keychaincache"
	"github.com/florianilch/claudine-credentials/internal/loader"
	"github.com/florianilch/claudine-credentials/internal/promptgate"
	"github.com/florianilch/claudine-credentials/internal/tokensource"
	"github.com/florianilch/claudine-credentials/internal/tokenstore"
)

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	reader     tokenstore.SecureStoreReader
	hooks      promptgate.Hooks
	cache      *keychaincache.Store
	isTerminal func() bool
}

// WithSecureStoreReader replaces the keyring reader.
func WithSecureStoreReader(reader tokenstore.SecureStoreReader) Option {
	return func(o *options) {
		o.reader = reader
	}
}

// WithPromptHooks sets the hooks fired around interactive keychain reads.
func WithPromptHooks(hooks promptgate.Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithCacheStore replaces the cache built from configuration.
func WithCacheStore(cache *keychaincache.Store) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithTerminalCheck replaces the stdin terminal check used by PromptPolicyAuto.
func WithTerminalCheck(isTerminal func() bool) Option {
	return func(o *options) {
		o.isTerminal = isTerminal
	}
}

// App wires the credential cache, prompt coordinator and loader together.
type App struct {
	cfg        *Config
	cache      *keychaincache.Store
	loader     *loader.Loader
	file       *tokenstore.FileStore
	decoder    credentials.JSONDecoder
	isTerminal func() bool
}

// New creates a new App instance. No I/O is performed until the first load.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
	for _, opt := range opts {
		opt(o)
	}

	cache := o.cache
	if cache == nil {
		var err error
		cache, err = newCacheStore(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache store: %w", err)
		}
	}

	reader := o.reader
	if reader == nil {
		store, err := tokenstore.NewKeyringStore(cfg.Keychain.Service, cfg.Keychain.Account)
		if err != nil {
			return nil, fmt.Errorf("failed to create keyring store: %w", err)
		}
		reader = store
	}

	decoder := credentials.JSONDecoder{ProviderKey: cfg.Credentials.ProviderKey}

	gate, err := promptgate.New(reader, cache,
		promptgate.WithDecoder(decoder),
		promptgate.WithHooks(o.hooks),
		promptgate.WithExpiryLeeway(cfg.Expiry.Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt coordinator: %w", err)
	}

	file, err := tokenstore.NewFileStore(cfg.Credentials.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create file store: %w", err)
	}

	loaderOpts := []loader.Option{
		loader.WithDecoder(decoder),
		loader.WithExpiryLeeway(cfg.Expiry.Leeway),
	}
	if cfg.Credentials.EnvKey != "" {
		env, err := tokenstore.NewEnvStore(cfg.Credentials.EnvKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create env store: %w", err)
		}
		loaderOpts = append(loaderOpts, loader.WithEnvStore(env))
	}

	key := keychaincache.Key{Provider: cfg.Credentials.Provider, Kind: cfg.Credentials.Kind}
	credentialLoader, err := loader.New(key, cache, gate, file, loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	return &App{
		cfg:        cfg,
		cache:      cache,
		loader:     credentialLoader,
		file:       file,
		decoder:    decoder,
		isTerminal: o.isTerminal,
	}, nil
}

func newCacheStore(cfg CacheConfig) (*keychaincache.Store, error) {
	opts := []keychaincache.Option{keychaincache.WithAbsentTTL(cfg.AbsentTTL)}

	switch cfg.Backend {
	case CacheBackendKeyring:
		backend, err := keychaincache.NewKeyringBackend(cfg.Service)
		if err != nil {
			return nil, err
		}
		return keychaincache.New(backend, opts...), nil
	case CacheBackendMemory:
		return keychaincache.NewIsolated(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// AllowPrompt resolves the configured prompt policy.
func (a *App) AllowPrompt() bool {
	switch a.cfg.Keychain.Prompt {
	case PromptPolicyAlways:
		return true
	case PromptPolicyNever:
		return false
	default:
		return a.isTerminal()
	}
}

// Load resolves credentials using environ for the env override.
func (a *App) Load(ctx context.Context, environ []string, allowPrompt bool) (*credentials.Record, error) {
	return a.loader.Load(ctx, tokenstore.EnvironMap(environ), allowPrompt)
}

// Invalidate drops the cached credentials.
func (a *App) Invalidate(ctx context.Context) {
	a.loader.Invalidate(ctx)
}

// CredentialsFile returns the path of the credentials file.
func (a *App) CredentialsFile() string {
	return a.file.Path()
}

// Export loads credentials and writes them to the credentials file, so later
// loads are served from the file without touching the keychain.
func (a *App) Export(ctx context.Context, environ []string, allowPrompt bool) (*credentials.Record, error) {
	rec, err := a.Load(ctx, environ, allowPrompt)
	if err != nil {
		return nil, err
	}
	switch rec.Source() {
	case credentials.SourceFile:
		return rec, nil
	case credentials.SourceEnv:
		return nil, fmt.Errorf("credentials from %s are not exported", a.cfg.Credentials.EnvKey)
	}

	data, err := a.decoder.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}
	if err := a.file.Write(ctx, data); err != nil {
		return nil, fmt.Errorf("writing credentials file: %w", err)
	}
	a.loader.ResetFileTracking()

	slog.InfoContext(ctx, "credentials exported", "path", a.file.Path(), "source", rec.Source())
	return rec, nil
}

// TokenSource returns an oauth2.TokenSource following the configured prompt policy.
func (a *App) TokenSource(environ func() []string) *tokensource.TokenSource {
	return tokensource.NewTokenSource(a.loader,
		tokensource.WithPrompt(a.AllowPrompt()),
		tokensource.WithEnviron(environ),
	)
}

// Run warms the cache and keeps it in sync with the credentials file until
// ctx is cancelled. Uses errgroup for runtime error monitoring.
func (a *App) Run(ctx context.Context, environ []string) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loader.Watch(gCtx)
	})

	g.Go(func() error {
		rec, err := a.Load(gCtx, environ, a.AllowPrompt())
		switch {
		case err == nil:
			slog.InfoContext(gCtx, "credentials ready", "source", rec.Source(), "expires_at", rec.ExpiresAt())
		case errors.Is(err, credentials.ErrCredentialUnavailable):
			// Not fatal: the watcher picks up credentials written later.
			slog.WarnContext(gCtx, "credentials not available yet", "error", err)
		case gCtx.Err() != nil:
		default:
			return fmt.Errorf("warming credentials: %w", err)
		}
		return nil
	})

	slog.InfoContext(gCtx, "application ready", "file", a.cfg.Credentials.File)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	slog.Info("application stopped")
	return nil
}
