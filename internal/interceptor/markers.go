package interceptor

import "context"

type contextKey string

const skipRefreshKey contextKey = "skipRefresh"
const retriedKey contextKey = "retried"

// WithSkipRefresh marks every request sent with the context so that an unauthorized
// response is propagated without attempting a refresh.
func WithSkipRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey, true)
}

func ShouldSkipRefresh(ctx context.Context) bool {
	skip, _ := ctx.Value(skipRefreshKey).(bool)
	return skip
}

func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

// WasRetried is true for the single re-dispatch of a request after a refresh.
func WasRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey).(bool)
	return retried
}
