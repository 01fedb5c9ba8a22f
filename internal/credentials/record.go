package credentials

import (
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// Source identifies where a Record was loaded from.
type Source string

const (
	SourceEnv      Source = "env"
	SourceFile     Source = "file"
	SourceKeychain Source = "keychain"
)

// Record is an immutable set of OAuth credentials.
// All fields are unexported; updates produce a new Record.
type Record struct {
	accessToken string
	expiresAt   time.Time
	scopes      []string
	source      Source
}

// NewRecord creates a Record. A zero expiresAt means the token carries no expiry.
func NewRecord(accessToken string, expiresAt time.Time, scopes []string, source Source) (*Record, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	return &Record{
		accessToken: accessToken,
		expiresAt:   expiresAt,
		scopes:      slices.Clone(scopes),
		source:      source,
	}, nil
}

// AccessToken returns the opaque access token.
func (r *Record) AccessToken() string { return r.accessToken }

// ExpiresAt returns the expiry time, or the zero time if the token never expires.
func (r *Record) ExpiresAt() time.Time { return r.expiresAt }

// Scopes returns a copy of the granted scopes in their original order.
func (r *Record) Scopes() []string { return slices.Clone(r.scopes) }

// Source returns where the record was loaded from.
func (r *Record) Source() Source { return r.source }

// WithSource returns a copy of r attributed to source.
func (r *Record) WithSource(source Source) *Record {
	c := *r
	c.scopes = slices.Clone(r.scopes)
	c.source = source
	return &c
}

// ExpiredAt reports whether the record is expired at now. A token is expired
// from expiresAt-leeway onwards; records without expiry never expire.
func (r *Record) ExpiredAt(now time.Time, leeway time.Duration) bool {
	if r.expiresAt.IsZero() {
		return false
	}
	return !now.Before(r.expiresAt.Add(-leeway))
}

// Equal reports whether both records carry the same token, expiry and scopes.
// The source is not compared.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.accessToken == other.accessToken &&
		r.expiresAt.Equal(other.expiresAt) &&
		slices.Equal(r.scopes, other.scopes)
}

// OAuth2Token converts the record into a bearer token usable with oauth2.Transport.
func (r *Record) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: r.accessToken,
		TokenType:   "Bearer",
		Expiry:      r.expiresAt,
	}
	return tok.WithExtra(map[string]any{
		"scope":  slices.Clone(r.scopes),
		"source": string(r.source),
	})
}

// String redacts the access token.
func (r *Record) String() string {
	return fmt.Sprintf("Record{source=%s, expiresAt=%s, scopes=%v}", r.source, r.expiresAt.Format(time.RFC3339), r.scopes)
}
