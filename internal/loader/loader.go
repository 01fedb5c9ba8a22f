package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/florianilch/claudine-credentials/internal/credentials"
	"github.com/florianilch/claudine-credentials/internal/keychaincache"
	"github.com/florianilch/claudine-credentials/internal/promptgate"
	"github.com/florianilch/claudine-credentials/internal/tokenstore"
)

// Option configures a Loader.
type Option func(*Loader)

// WithEnvStore enables the environment token override.
func WithEnvStore(env *tokenstore.EnvStore) Option {
	return func(l *Loader) {
		l.env = env
	}
}

// WithDecoder overrides the credentials file decoder.
func WithDecoder(decoder credentials.Decoder) Option {
	return func(l *Loader) {
		l.decoder = decoder
	}
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

// WithExpiryLeeway treats records as expired this long before their expiry.
func WithExpiryLeeway(leeway time.Duration) Option {
	return func(l *Loader) {
		l.leeway = leeway
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// Loader resolves one credential identity from its sources in precedence
// order: environment override, cache, credentials file, secure store.
type Loader struct {
	key     keychaincache.Key
	cache   *keychaincache.Store
	gate    *promptgate.Coordinator
	file    *tokenstore.FileStore
	env     *tokenstore.EnvStore
	decoder credentials.Decoder
	now     func() time.Time
	leeway  time.Duration
	logger  *slog.Logger

	trackMu sync.Mutex
	tracked fileTrack
}

// fileTrack remembers the last decoded version of the credentials file.
type fileTrack struct {
	valid       bool
	fingerprint tokenstore.Fingerprint
	record      *credentials.Record
	err         error
}

// New creates a Loader for key.
func New(key keychaincache.Key, cache *keychaincache.Store, gate *promptgate.Coordinator, file *tokenstore.FileStore, opts ...Option) (*Loader, error) {
	if cache == nil {
		return nil, fmt.Errorf("missing cache store")
	}
	if gate == nil {
		return nil, fmt.Errorf("missing prompt coordinator")
	}
	if file == nil {
		return nil, fmt.Errorf("missing credentials file store")
	}

	l := &Loader{
		key:     key,
		cache:   cache,
		gate:    gate,
		file:    file,
		decoder: credentials.JSONDecoder{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key returns the identity this loader resolves.
func (l *Loader) Key() keychaincache.Key {
	return l.key
}

// Load returns a valid, unexpired record. It fails with an error matching
// credentials.ErrCredentialUnavailable when no source yields one; the
// underlying cause stays inspectable through errors.Is and errors.As.
//
// A warm cache answers without touching any source. Only the secure store can
// prompt, and only when allowPrompt is true.
func (l *Loader) Load(ctx context.Context, env map[string]string, allowPrompt bool) (*credentials.Record, error) {
	if rec := l.fromEnv(env); rec != nil {
		return rec, nil
	}

	entry := l.cache.Get(ctx, l.key)
	if entry.State == keychaincache.StateCached {
		if !l.expired(entry.Record) {
			l.logger.DebugContext(ctx, "credential cache hit", "key", l.key.String(), "source", entry.Record.Source())
			return entry.Record, nil
		}
		l.logger.DebugContext(ctx, "cached credentials expired", "key", l.key.String(), "expires_at", entry.Record.ExpiresAt())
	}

	rec, fileErr := l.fromFile(ctx)
	if rec != nil {
		if !l.expired(rec) {
			l.cache.SetRecord(ctx, l.key, rec)
			return rec, nil
		}
		fileErr = fmt.Errorf("credentials in %s expired at %s", l.file.Path(), rec.ExpiresAt().Format(time.RFC3339))
	}
	if fileErr != nil {
		var decodeErr *credentials.DecodeError
		if errors.As(fileErr, &decodeErr) {
			l.logger.WarnContext(ctx, "ignoring malformed credentials file", "path", l.file.Path(), "error", fileErr)
		} else {
			l.logger.DebugContext(ctx, "credentials file unusable", "path", l.file.Path(), "error", fileErr)
		}
	}

	// A negative answer from a read allowed to prompt settles the question
	// until the marker expires; one that was not only settles silent reads.
	if entry.State == keychaincache.StateCachedAbsent && (entry.Interactive || !allowPrompt) {
		l.logger.DebugContext(ctx, "secure store known to be empty", "key", l.key.String())
		return nil, credentials.Unavailable(errors.Join(promptgate.ErrAbsent, fileErr))
	}

	rec, err := l.gate.Load(ctx, l.key, allowPrompt)
	switch {
	case err == nil && l.expired(rec):
		return nil, credentials.Unavailable(fmt.Errorf("secure store credentials expired at %s", rec.ExpiresAt().Format(time.RFC3339)))
	case err == nil:
		return rec, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		return nil, credentials.Unavailable(errors.Join(err, fileErr))
	}
}

// fromEnv returns the environment override, which carries no expiry and is never cached.
func (l *Loader) fromEnv(env map[string]string) *credentials.Record {
	if l.env == nil {
		return nil
	}
	token, ok := l.env.Lookup(env)
	if !ok {
		return nil
	}
	rec, err := credentials.NewRecord(token, time.Time{}, nil, credentials.SourceEnv)
	if err != nil {
		return nil
	}
	return rec
}

// fromFile decodes the credentials file, reusing the previous result while
// the file's fingerprint is unchanged. A missing file yields nil, nil.
func (l *Loader) fromFile(ctx context.Context) (*credentials.Record, error) {
	fp, err := l.file.Fingerprint(ctx)
	if err != nil {
		return nil, err
	}

	l.trackMu.Lock()
	defer l.trackMu.Unlock()

	if !fp.Exists {
		l.tracked = fileTrack{}
		return nil, nil
	}
	if l.tracked.valid && l.tracked.fingerprint.Equal(fp) {
		return l.tracked.record, l.tracked.err
	}

	var rec *credentials.Record
	data, err := l.file.Read(ctx)
	if err == nil {
		rec, err = l.decoder.Decode(data, credentials.SourceFile)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	l.tracked = fileTrack{valid: true, fingerprint: fp, record: rec, err: err}
	return rec, err
}

// ResetFileTracking forgets the last decoded file version so the next load re-reads it.
func (l *Loader) ResetFileTracking() {
	l.trackMu.Lock()
	defer l.trackMu.Unlock()

	l.tracked = fileTrack{}
}

// Invalidate clears the cache entry and file tracking, forcing the next load
// to consult its sources again.
func (l *Loader) Invalidate(ctx context.Context) {
	l.cache.Clear(ctx, l.key)
	l.ResetFileTracking()
	l.logger.InfoContext(ctx, "credential cache invalidated", "key", l.key.String())
}

func (l *Loader) expired(rec *credentials.Record) bool {
	return rec.ExpiredAt(l.now(), l.leeway)
}
