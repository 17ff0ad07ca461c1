package toolexecutor

import "context"

type callInfoKey struct{}

// CallInfo identifies the model request behind a tool call.
type CallInfo struct {
	ID           string
	Conversation string
	Turn         int
}

// ContextWithCallInfo attaches call metadata for tool handlers.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the metadata attached by the caller, if any.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	if ctx == nil {
		return CallInfo{}, false
	}
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
