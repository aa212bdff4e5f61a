package tenantctx

import "context"

// Scope runs fn with tenant id installed. fn receives the derived context;
// ctx itself is left untouched, so the caller's tenant is back in effect on
// every exit path of fn, including errors and panics.
func Scope(ctx context.Context, id int64, fn func(ctx context.Context) error) error {
	return fn(Install(ctx, id))
}

// Detach returns a context that keeps ctx's values (tenant, request id,
// trace) but not its cancellation or deadline. Work that must outlive the
// request, such as provider submission, uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
