package stores

import (
	"credhost/pkg/tokens"
)

// CredentialStore persists basic-auth credentials keyed by target resource.
// A miss is reported through the bool, never as an error.
type CredentialStore interface {
	ReadCredential(key tokens.Target) (tokens.Credential, bool)
	WriteCredential(key tokens.Target, cred tokens.Credential)
	DeleteCredential(key tokens.Target) bool
}

// TokenStore persists typed tokens keyed by target resource.
type TokenStore interface {
	ReadToken(key tokens.Target) (tokens.Token, bool)
	WriteToken(key tokens.Target, tok tokens.Token)
	DeleteToken(key tokens.Target) bool
}
