package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultProviderKey is the top-level key Claude Code writes its OAuth block under.
const DefaultProviderKey = "claudeAiOauth"

// Decoder turns raw credential bytes into a Record.
// Implementations return *DecodeError for malformed content.
type Decoder interface {
	Decode(data []byte, source Source) (*Record, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte, source Source) (*Record, error)

// Decode calls f.
func (f DecoderFunc) Decode(data []byte, source Source) (*Record, error) {
	return f(data, source)
}

// JSONDecoder decodes `{ "<ProviderKey>": { accessToken, expiresAt, scopes } }`
// where expiresAt is milliseconds since the Unix epoch.
type JSONDecoder struct {
	ProviderKey string
}

// Compile-time check to ensure JSONDecoder implements Decoder
var _ Decoder = JSONDecoder{}

type oauthBlock struct {
	AccessToken string   `json:"accessToken"`
	ExpiresAt   *int64   `json:"expiresAt"`
	Scopes      []string `json:"scopes"`
}

// Decode parses data into a Record attributed to source.
func (d JSONDecoder) Decode(data []byte, source Source) (*Record, error) {
	key := d.ProviderKey
	if key == "" {
		key = DefaultProviderKey
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Origin: string(source), Err: err}
	}

	raw, ok := doc[key]
	if !ok {
		return nil, &DecodeError{Origin: string(source), Err: fmt.Errorf("missing %q object", key)}
	}

	var block oauthBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, &DecodeError{Origin: string(source), Err: err}
	}
	if block.AccessToken == "" {
		return nil, &DecodeError{Origin: string(source), Err: errors.New("empty accessToken")}
	}
	if block.ExpiresAt == nil {
		return nil, &DecodeError{Origin: string(source), Err: errors.New("missing expiresAt")}
	}

	return NewRecord(block.AccessToken, time.UnixMilli(*block.ExpiresAt), block.Scopes, source)
}

// Encode renders r in the format accepted by JSONDecoder.
func (d JSONDecoder) Encode(r *Record) ([]byte, error) {
	key := d.ProviderKey
	if key == "" {
		key = DefaultProviderKey
	}

	expiresAt := r.expiresAt.UnixMilli()
	return json.Marshal(map[string]oauthBlock{
		key: {
			AccessToken: r.accessToken,
			ExpiresAt:   &expiresAt,
			Scopes:      r.Scopes(),
		},
	})
}
