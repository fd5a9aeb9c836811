package toolexecutor

import "context"

type executionKey struct{}

// WithExecution attaches execCtx so handlers can see which session and agent
// invoked them.
func WithExecution(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, executionKey{}, execCtx)
}

// ExecutionFrom returns the execution context of the running call, or nil
// outside Execute.
func ExecutionFrom(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(executionKey{}).(*ExecutionContext)
	return execCtx
}

// SessionID returns the session of the running call.
func SessionID(ctx context.Context) string {
	if execCtx := ExecutionFrom(ctx); execCtx != nil {
		return execCtx.SessionID
	}
	return ""
}
