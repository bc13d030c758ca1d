// Package requestctx carries per-request actor identity and network metadata.
//
// The workflow core never inspects transport details directly; whatever
// routing layer sits in front populates these values before invoking the
// coordinator so audit records can capture who acted and from where.
package requestctx

import "context"

// userIDContextKey is the context key for authenticated user identity.
type userIDContextKey struct{}

// networkContextKey is the context key for request network metadata.
type networkContextKey struct{}

// Network captures the network metadata of the acting request.
type Network struct {
	IPAddress string
	UserAgent string
	Country   string
}

// WithUserID stores a user identifier in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user identifier stored in context.
//
// An empty result means the actor is anonymous and must present an
// invitation grant to act.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDContextKey{}).(string)
	return value
}

// WithNetwork stores request network metadata in context.
func WithNetwork(ctx context.Context, network Network) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, networkContextKey{}, network)
}

// NetworkFromContext returns the network metadata stored in context.
func NetworkFromContext(ctx context.Context) Network {
	if ctx == nil {
		return Network{}
	}
	value, _ := ctx.Value(networkContextKey{}).(Network)
	return value
}
