package chatports

import "context"

// TokenProvider supplies the bearer credential for backend calls. An empty
// token with a nil error means the caller is unauthenticated, which is a
// valid configuration.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Identity is attached to persisted records.
type Identity struct {
	UserID   string
	TenantID string
}
