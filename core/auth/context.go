package auth

import (
	"context"

	"campus-cms/core/store"
)

type ctxKey int

const sessionKey ctxKey = 1

func WithSession(ctx context.Context, sess *store.SessionRecord) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

func SessionFromContext(ctx context.Context) (*store.SessionRecord, bool) {
	sess, ok := ctx.Value(sessionKey).(*store.SessionRecord)
	return sess, ok && sess != nil
}
