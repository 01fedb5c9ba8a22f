package promptgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/claudine-credentials/internal/credentials"
	"github.com/florianilch/claudine-credentials/internal/keychaincache"
	"github.com/florianilch/claudine-credentials/internal/tokenstore"
)

const tracerName = "github.com/florianilch/claudine-credentials/internal/promptgate"

// ErrAbsent reports that the secure store authoritatively holds no credentials.
var ErrAbsent = errors.New("no credentials in secure store")

// Hooks observe interactive reads. Each hook fires at most once per ticket,
// on the owner's goroutine, no matter how many callers joined it.
type Hooks struct {
	// OnAboutToPrompt fires right before a read that will show a prompt.
	OnAboutToPrompt func(ctx context.Context)
	// OnInteractiveReadAttempted fires right before any read allowed to prompt.
	OnInteractiveReadAttempted func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHooks sets the prompt observer hooks.
func WithHooks(hooks Hooks) Option {
	return func(c *Coordinator) {
		c.hooks = hooks
	}
}

// WithDecoder overrides the decoder applied to secure-store payloads.
func WithDecoder(decoder credentials.Decoder) Option {
	return func(c *Coordinator) {
		c.decoder = decoder
	}
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithExpiryLeeway treats records as expired this long before their expiry.
func WithExpiryLeeway(leeway time.Duration) Option {
	return func(c *Coordinator) {
		c.leeway = leeway
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator serializes secure-store reads per identity. Concurrent callers
// for one identity share a single in-flight read (a ticket) and its outcome.
type Coordinator struct {
	reader  tokenstore.SecureStoreReader
	cache   *keychaincache.Store
	decoder credentials.Decoder
	hooks   Hooks
	now     func() time.Time
	leeway  time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer

	// Tickets are keyed by identity. singleflight checks and creates them in
	// one critical section and forgets them once the owner returns.
	tickets singleflight.Group
}

// New creates a Coordinator reading from reader and recording outcomes in cache.
func New(reader tokenstore.SecureStoreReader, cache *keychaincache.Store, opts ...Option) (*Coordinator, error) {
	if reader == nil {
		return nil, fmt.Errorf("missing secure store reader")
	}
	if cache == nil {
		return nil, fmt.Errorf("missing cache store")
	}

	c := &Coordinator{
		reader:  reader,
		cache:   cache,
		decoder: credentials.JSONDecoder{},
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// outcome is the shared result of one ticket.
type outcome struct {
	record *credentials.Record
	// interactive records whether the read was allowed to prompt.
	interactive bool
}

// Load returns the secure-store record for key, starting a read or joining
// the one already in flight. It returns ErrAbsent when the store holds no
// credentials and the read's error otherwise.
//
// A caller whose ctx ends stops waiting; the read keeps running for the
// remaining callers. A caller allowed to prompt that joined a read which was
// not, and got absence, retries once with prompting.
func (c *Coordinator) Load(ctx context.Context, key keychaincache.Key, allowPrompt bool) (*credentials.Record, error) {
	// A caller that already gave up must not start a read nobody waits for.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := c.join(ctx, key, allowPrompt)
	if err == nil && out.record == nil && allowPrompt && !out.interactive {
		c.logger.DebugContext(ctx, "joined non-interactive read found nothing, retrying with prompt", "key", key.String())
		out, err = c.join(ctx, key, allowPrompt)
	}
	if err != nil {
		return nil, err
	}
	if out.record == nil {
		return nil, ErrAbsent
	}
	return out.record, nil
}

func (c *Coordinator) join(ctx context.Context, key keychaincache.Key, allowPrompt bool) (*outcome, error) {
	// The owner's read outlives any single caller's cancellation.
	ownerCtx := context.WithoutCancel(ctx)
	ch := c.tickets.DoChan(key.String(), func() (any, error) {
		return c.read(ownerCtx, key, allowPrompt)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.DebugContext(ctx, "shared in-flight keychain read", "key", key.String())
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*outcome), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// read runs once per ticket on the owner's behalf.
func (c *Coordinator) read(ctx context.Context, key keychaincache.Key, allowPrompt bool) (*outcome, error) {
	// A previous ticket may have completed between the caller's cache check
	// and this ticket's creation.
	if entry := c.cache.Get(ctx, key); entry.State == keychaincache.StateCached && !entry.Record.ExpiredAt(c.now(), c.leeway) {
		return &outcome{record: entry.Record, interactive: allowPrompt}, nil
	}

	ticketID := uuid.NewString()
	logger := c.logger.With("key", key.String(), "ticket", ticketID, "allow_prompt", allowPrompt)

	ctx, span := c.tracer.Start(ctx, "keychain.read", trace.WithAttributes(
		attribute.String("credential.key", key.String()),
		attribute.String("ticket.id", ticketID),
		attribute.Bool("keychain.allow_prompt", allowPrompt),
	))
	defer span.End()

	if allowPrompt {
		if c.willPrompt(ctx) && c.hooks.OnAboutToPrompt != nil {
			c.hooks.OnAboutToPrompt(ctx)
		}
		if c.hooks.OnInteractiveReadAttempted != nil {
			c.hooks.OnInteractiveReadAttempted()
		}
		logger.InfoContext(ctx, "reading credentials from secure store")
	} else {
		logger.DebugContext(ctx, "reading credentials from secure store")
	}

	data, err := c.reader.ReadSecure(ctx, allowPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "secure store read failed")
		logger.WarnContext(ctx, "secure store read failed", "error", err)
		return nil, err
	}

	if data == nil {
		span.SetAttributes(attribute.Bool("keychain.absent", true))
		logger.DebugContext(ctx, "secure store holds no credentials")
		c.cache.SetAbsent(ctx, key, allowPrompt)
		return &outcome{interactive: allowPrompt}, nil
	}

	rec, err := c.decoder.Decode(data, credentials.SourceKeychain)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decoding secure store payload failed")
		logger.WarnContext(ctx, "decoding secure store payload failed", "error", err)
		return nil, err
	}

	c.cache.SetRecord(ctx, key, rec)
	logger.InfoContext(ctx, "loaded credentials from secure store", "expires_at", rec.ExpiresAt())
	return &outcome{record: rec, interactive: allowPrompt}, nil
}

func (c *Coordinator) willPrompt(ctx context.Context) bool {
	if p, ok := c.reader.(tokenstore.PromptPredictor); ok {
		return p.WillPrompt(ctx)
	}
	return true
}
