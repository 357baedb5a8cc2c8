package command

import "context"

type progressKey struct{}

// Notify relays an intermediate progress value from inside a mutation to the
// callback registered with WithProgress. It is a no-op without one.
func Notify(ctx context.Context, info any) {
	if fn, ok := ctx.Value(progressKey{}).(func(any)); ok && fn != nil {
		fn(info)
	}
}

func withProgress(ctx context.Context, fn func(any)) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}
