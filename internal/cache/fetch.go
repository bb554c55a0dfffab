package cache

import "context"

// Fetch is the typed form of Layer.GetCachedData.
func Fetch[T any](ctx context.Context, l Layer, key string, fetch func(ctx context.Context) (T, error), opts Options) (T, error) {
	var out T
	err := l.GetCachedData(ctx, key, &out, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts)
	return out, err
}
