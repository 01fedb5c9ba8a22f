package keychaincache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/claudine-credentials/internal/credentials"
)

// Backend persists cached records across process restarts.
type Backend interface {
	// Load returns the persisted record for key, or a nil record if none exists.
	Load(ctx context.Context, key Key) (*credentials.Record, time.Time, error)
	Save(ctx context.Context, key Key, rec *credentials.Record, cachedAt time.Time) error
	Delete(ctx context.Context, key Key) error
}

// MemoryBackend keeps records in process memory. It gives each Store an
// isolated instance so tests never share state.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[Key]memoryRecord
}

type memoryRecord struct {
	rec      *credentials.Record
	cachedAt time.Time
}

// Compile-time check to ensure MemoryBackend implements Backend
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[Key]memoryRecord)}
}

func (m *MemoryBackend) Load(ctx context.Context, key Key) (*credentials.Record, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return nil, time.Time{}, nil
	}
	return r.rec, r.cachedAt, nil
}

func (m *MemoryBackend) Save(ctx context.Context, key Key, rec *credentials.Record, cachedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = memoryRecord{rec: rec, cachedAt: cachedAt}
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// KeyringBackend persists records in an OS keyring item owned by this
// application, so reading them back never triggers the third-party keychain
// prompt that produced them.
type KeyringBackend struct {
	service string
	codec   credentials.JSONDecoder
}

// Compile-time check to ensure KeyringBackend implements Backend
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a KeyringBackend storing items under service.
func NewKeyringBackend(service string) (*KeyringBackend, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringBackend{service: service}, nil
}

type keyringItem struct {
	Credentials json.RawMessage    `json:"credentials"`
	Source      credentials.Source `json:"source"`
	CachedAt    int64              `json:"cachedAt"`
}

func (k *KeyringBackend) Load(ctx context.Context, key Key) (*credentials.Record, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	secret, err := keyring.Get(k.service, key.String())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	var item keyringItem
	if err := json.Unmarshal([]byte(secret), &item); err != nil {
		return nil, time.Time{}, &credentials.DecodeError{Origin: "credential cache", Err: err}
	}
	rec, err := k.codec.Decode(item.Credentials, item.Source)
	if err != nil {
		return nil, time.Time{}, err
	}

	return rec, time.UnixMilli(item.CachedAt), nil
}

func (k *KeyringBackend) Save(ctx context.Context, key Key, rec *credentials.Record, cachedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := k.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	item, err := json.Marshal(keyringItem{
		Credentials: encoded,
		Source:      rec.Source(),
		CachedAt:    cachedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding cache item: %w", err)
	}

	return keyring.Set(k.service, key.String(), string(item))
}

func (k *KeyringBackend) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := keyring.Delete(k.service, key.String())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
