package tokenstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/claudine-credentials/internal/credentials"
)

func TestFileStoreWriteRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", ".credentials.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Read(ctx); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Read on missing file = %v, want fs.ErrNotExist", err)
	}
	fp, err := store.Fingerprint(ctx)
	if err != nil || fp.Exists {
		t.Fatalf("Fingerprint on missing file = %+v, %v", fp, err)
	}

	want := []byte(`{"claudeAiOauth":{}}`)
	if err := store.Write(ctx, want); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("Read = %q, want %q", got, want)
	}

	fp2, err := store.Fingerprint(ctx)
	if err != nil || !fp2.Exists || fp2.Size != int64(len(want)) {
		t.Fatalf("Fingerprint after write = %+v, %v", fp2, err)
	}
	if fp.Equal(fp2) {
		t.Error("fingerprint did not change after write")
	}
}

func TestFileStoreRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	store, _ := NewFileStore(path)
	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected error for 0644 file")
	}
}

func TestFileStoreRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}

	store, _ := NewFileStore(path)
	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store, _ := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Write(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write = %v, want context.Canceled", err)
	}
	if _, err := store.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read = %v, want context.Canceled", err)
	}
}

func TestNewStoresValidateArguments(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore accepted empty path")
	}
	if _, err := NewEnvStore(""); err == nil {
		t.Error("NewEnvStore accepted empty key")
	}
	if _, err := NewKeyringStore("", "user"); err == nil {
		t.Error("NewKeyringStore accepted empty service")
	}
	if _, err := NewKeyringStore("service", ""); err == nil {
		t.Error("NewKeyringStore accepted empty user")
	}
}

func TestEnvStoreLookup(t *testing.T) {
	store, err := NewEnvStore("CLAUDE_CODE_OAUTH_TOKEN")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		env    map[string]string
		want   string
		wantOK bool
	}{
		{"unset", map[string]string{}, "", false},
		{"nil env", nil, "", false},
		{"blank", map[string]string{"CLAUDE_CODE_OAUTH_TOKEN": "  "}, "", false},
		{"set", map[string]string{"CLAUDE_CODE_OAUTH_TOKEN": " tok\n"}, "tok", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := store.Lookup(tt.env)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Lookup() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEnvironMap(t *testing.T) {
	env := EnvironMap([]string{"A=1", "B=x=y", "MALFORMED", "C="})
	if env["A"] != "1" || env["B"] != "x=y" || env["C"] != "" {
		t.Errorf("unexpected map: %v", env)
	}
	if _, ok := env["MALFORMED"]; ok {
		t.Error("malformed entry should be skipped")
	}
}

func TestKeyringStoreReadSecure(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	store, err := NewKeyringStore("Claude Code-credentials", "tester")
	if err != nil {
		t.Fatal(err)
	}

	data, err := store.ReadSecure(ctx, true)
	if err != nil || data != nil {
		t.Fatalf("missing item = %q, %v; want absence", data, err)
	}

	if err := keyring.Set("Claude Code-credentials", "tester", `{"claudeAiOauth":{}}`); err != nil {
		t.Fatal(err)
	}

	data, err = store.ReadSecure(ctx, false)
	if err != nil || data != nil {
		t.Fatalf("non-interactive read = %q, %v; want absence", data, err)
	}

	data, err = store.ReadSecure(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"claudeAiOauth":{}}` {
		t.Errorf("ReadSecure = %q", data)
	}
}

func TestKeyringStoreReadSecureFailure(t *testing.T) {
	keyring.MockInitWithError(errors.New("keychain locked"))
	t.Cleanup(keyring.MockInit)

	store, _ := NewKeyringStore("Claude Code-credentials", "tester")
	_, err := store.ReadSecure(context.Background(), true)
	if !errors.Is(err, credentials.ErrSecureStoreUnavailable) {
		t.Fatalf("ReadSecure = %v, want ErrSecureStoreUnavailable", err)
	}
}
