package syncache

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/syncache/codec"
)

// Resource is a typed view over a Client for one value shape: reads decode
// through the codec, writes encode and enqueue. A thin convenience; the
// byte-level Client remains the source of truth.
type Resource[V any] struct {
	c     Client
	codec codec.Codec[V]
}

// NewResource binds a codec to a client. The same client can back any
// number of Resources.
func NewResource[V any](c Client, cd codec.Codec[V]) *Resource[V] {
	return &Resource[V]{c: c, codec: cd}
}

// Get resolves key through its strategy and decodes the payload.
func (r *Resource[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	payload, err := r.c.Request(ctx, key)
	if err != nil {
		return zero, err
	}
	v, err := r.codec.Decode(payload)
	if err != nil {
		return zero, fmt.Errorf("syncache: decode %q: %w", key, err)
	}
	return v, nil
}

// Create enqueues a create mutation for key carrying v.
func (r *Resource[V]) Create(ctx context.Context, key string, v V) (uuid.UUID, error) {
	return r.enqueue(ctx, key, OpCreate, v)
}

// Put enqueues an update mutation for key carrying v.
func (r *Resource[V]) Put(ctx context.Context, key string, v V) (uuid.UUID, error) {
	return r.enqueue(ctx, key, OpUpdate, v)
}

// Delete enqueues a delete mutation for key.
func (r *Resource[V]) Delete(ctx context.Context, key string) (uuid.UUID, error) {
	return r.c.Enqueue(ctx, Mutation{Key: key, Op: OpDelete})
}

func (r *Resource[V]) enqueue(ctx context.Context, key string, op Op, v V) (uuid.UUID, error) {
	payload, err := r.codec.Encode(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("syncache: encode %q: %w", key, err)
	}
	return r.c.Enqueue(ctx, Mutation{Key: key, Op: op, Payload: payload})
}
