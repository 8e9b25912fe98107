// Package identity implements the persistent session identifier: an
// "esp32-"+hex(random32) token stored under a namespaced key in an
// external KV store so it survives process restarts. It is grounded on
// room4-2-OpenConverse's session.Manager, which wraps the same
// github.com/redis/go-redis/v9 client behind a try-then-fall-through
// pattern on connection failure, and on its use of github.com/google/uuid
// for identifier generation.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Namespace and key under which the identifier is persisted.
const (
	Namespace = "proxy_client"
	Key       = "session_id"
)

// ErrNotFound is returned by Store.Get when the key has never been set.
var ErrNotFound = errors.New("identity: not found")

// Store is the external KV collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// namespacedKey is the full key Resolve reads and writes.
func namespacedKey() string {
	return Namespace + ":" + Key
}

// Resolve returns the persisted session identifier, generating and
// persisting a new one on first call (or whenever the key is absent).
// Any other Get/Set failure (KV store unreachable) makes Resolve fall
// through to a freshly generated, unpersisted identifier — its lifetime
// then equals the process's.
func Resolve(ctx context.Context, store Store) string {
	key := namespacedKey()

	id, err := store.Get(ctx, key)
	switch {
	case err == nil && id != "":
		return id
	case err == nil, errors.Is(err, ErrNotFound):
		// absent, not a store failure: generate and try to persist.
		fresh := generate()
		_ = store.Set(ctx, key, fresh)
		return fresh
	default:
		// store failure: ephemeral identity for this process only.
		return generate()
	}
}

func generate() string {
	id := uuid.New()
	return fmt.Sprintf("esp32-%s", hex4(id))
}

// hex4 hex-encodes the first 4 bytes of a uuid, producing the 8-hex-digit
// random32 suffix the wire identifier uses.
func hex4(id uuid.UUID) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		out[i*2] = hextable[id[i]>>4]
		out[i*2+1] = hextable[id[i]&0x0f]
	}
	return string(out)
}
