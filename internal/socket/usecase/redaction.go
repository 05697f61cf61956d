package usecase

import (
	"context"
	"fmt"
	"sync"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"
)

// ChatMessagesCollection holds encrypted chat messages.
const ChatMessagesCollection = "chatMessages"

// RedactionHook rewrites client content of one collection in place before it
// is transmitted.
type RedactionHook func(ctx context.Context, content model.Document) error

// RedactionRegistry maps collection names to redaction hooks.
type RedactionRegistry struct {
	mu    sync.RWMutex
	hooks map[string]RedactionHook
}

// NewRedactionRegistry creates an empty registry.
func NewRedactionRegistry() *RedactionRegistry {
	return &RedactionRegistry{hooks: make(map[string]RedactionHook)}
}

// Register installs hook for collection, replacing any previous hook.
func (r *RedactionRegistry) Register(collection string, hook RedactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[collection] = hook
}

// Has reports whether collection has a hook.
func (r *RedactionRegistry) Has(collection string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hooks[collection]
	return ok
}

// Apply runs the hook of collection on content. Collections without a hook
// pass through unchanged.
func (r *RedactionRegistry) Apply(ctx context.Context, collection string, content model.Document) error {
	r.mu.RLock()
	hook, ok := r.hooks[collection]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	if err := hook(ctx, content); err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrRedactionFailed, collection, err)
	}
	return nil
}

// NewDecryptingRedactor returns a hook replacing the ciphertext in field with
// its plaintext, using the initialization vector stored in ivField. The
// ivField is removed from the content.
func NewDecryptingRedactor(dec repository.Decryptor, field, ivField string) RedactionHook {
	return func(_ context.Context, content model.Document) error {
		ciphertext, ok := content[field].(string)
		if !ok {
			return fmt.Errorf("%w: field %q missing", apperrors.ErrInvalidCiphertext, field)
		}
		iv, ok := content[ivField].(string)
		if !ok {
			return fmt.Errorf("%w: field %q missing", apperrors.ErrInvalidCiphertext, ivField)
		}

		plaintext, err := dec.Decrypt(ciphertext, iv)
		if err != nil {
			return err
		}

		content[field] = plaintext
		delete(content, ivField)
		return nil
	}
}

// NewChatMessageRedactor decrypts chat message bodies.
func NewChatMessageRedactor(dec repository.Decryptor) RedactionHook {
	return NewDecryptingRedactor(dec, "message", "iv")
}
