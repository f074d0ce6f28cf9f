package authority

import (
	"context"

	"credhost/pkg/tokens"
)

// Client is the remote identity authority the broker exchanges tokens with.
// Implementations perform the wire-level OAuth exchange; the broker depends on
// this contract only.
type Client interface {
	// ExchangeRefreshToken trades a long-lived refresh token for a fresh
	// access/refresh pair. A rejected or expired refresh token yields
	// (nil, nil) rather than an error; errors are reserved for transport
	// failures and cancellation.
	ExchangeRefreshToken(ctx context.Context, target tokens.Target, clientID, resource string, refresh tokens.Token) (*tokens.TokenPair, error)

	// GeneratePersonalAccessToken converts an access token into a persistable
	// PAT with the requested scope. compact requests the short token form.
	// A refused generation yields (nil, nil).
	GeneratePersonalAccessToken(ctx context.Context, target tokens.Target, access tokens.Token, scope tokens.TokenScope, compact bool) (*tokens.Token, error)

	// ValidateCredentials reports whether the credential is accepted by the
	// service for the target resource.
	ValidateCredentials(ctx context.Context, target tokens.Target, cred tokens.Credential) bool
}
