package session

import "context"

type storeContextKey struct{}

// ContextWithStore stores the client session store in context.
func ContextWithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// StoreFromContext extracts the client session store from context.
func StoreFromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}
