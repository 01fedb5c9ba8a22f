package tokenstore

import "context"

// SecureStoreReader reads raw credential bytes from an OS secure store.
//
// A nil slice with a nil error signals authoritative absence. When allowPrompt
// is false the reader must not trigger any user-visible prompt and reports
// absence instead.
type SecureStoreReader interface {
	ReadSecure(ctx context.Context, allowPrompt bool) ([]byte, error)
}

// SecureStoreReaderFunc adapts a function to the SecureStoreReader interface.
type SecureStoreReaderFunc func(ctx context.Context, allowPrompt bool) ([]byte, error)

// ReadSecure calls f.
func (f SecureStoreReaderFunc) ReadSecure(ctx context.Context, allowPrompt bool) ([]byte, error) {
	return f(ctx, allowPrompt)
}

// PromptPredictor is implemented by readers that can tell in advance whether
// an interactive read will show a prompt.
type PromptPredictor interface {
	WillPrompt(ctx context.Context) bool
}
