package reportflow

import "context"

// ClientInfo describes the caller behind an operation. Transport layers
// attach it so audit entries can carry the originating address.
type ClientInfo struct {
	ActorID   string
	IP        string
	UserAgent string
}

type clientInfoKey struct{}

// WithClientInfo returns a context carrying info.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the ClientInfo stored in ctx, if any.
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info, ok
}
