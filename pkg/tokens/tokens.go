// pkg/tokens/tokens.go
package tokens

import (
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// TokenType classifies a secret held in a Token.
type TokenType int

const (
	TypePersonalAccess TokenType = iota + 1
	TypeRefresh
	TypeFederated
	TypeAccess
)

func (t TokenType) String() string {
	switch t {
	case TypePersonalAccess:
		return "pat"
	case TypeRefresh:
		return "refresh"
	case TypeFederated:
		return "federated"
	case TypeAccess:
		return "access"
	}
	return "unknown"
}

// EmptyTenant is the sentinel for "not tenant-scoped" (consumer identity).
var EmptyTenant = uuid.Nil

// Token is an immutable typed secret. TargetIdentity names the tenant the
// token was issued for; EmptyTenant means a consumer-identity authority.
type Token struct {
	Value          string
	Type           TokenType
	TargetIdentity uuid.UUID
}

// NewToken builds a token without a tenant binding.
func NewToken(value string, typ TokenType) Token {
	return Token{Value: value, Type: typ, TargetIdentity: EmptyTenant}
}

// NewTenantToken builds a token bound to a specific tenant.
func NewTenantToken(value string, typ TokenType, tenant uuid.UUID) Token {
	return Token{Value: value, Type: typ, TargetIdentity: tenant}
}

// Zero reports whether the token carries no secret.
func (t Token) Zero() bool { return t.Value == "" }

// TokenPair is the result of a refresh exchange. Only AccessToken is consumed
// by the broker; the pair itself is never persisted.
type TokenPair struct {
	AccessToken  Token
	RefreshToken Token
}

// Credential is a username/secret pair usable for basic auth.
type Credential struct {
	Username string
	Secret   string
}

// PersonalAccessTokenUserName is the placeholder account name paired with a
// PAT when it is used as a basic-auth password.
const PersonalAccessTokenUserName = "PersonalAccessToken"

// NewCredential converts a PAT-typed token into a basic-auth credential.
func NewCredential(pat Token) Credential {
	return Credential{Username: PersonalAccessTokenUserName, Secret: pat.Value}
}

// Zero reports whether the credential carries no secret.
func (c Credential) Zero() bool { return c.Secret == "" }

// TokenScope describes the capabilities requested for a generated PAT.
// The broker treats it as opaque; it is rendered space-delimited on the wire.
type TokenScope struct {
	scopes []string
}

// NewTokenScope parses a space-delimited scope string.
func NewTokenScope(s string) TokenScope {
	return TokenScope{scopes: strings.Fields(s)}
}

func (s TokenScope) String() string { return strings.Join(s.scopes, " ") }

// Empty reports whether no capability was requested.
func (s TokenScope) Empty() bool { return len(s.scopes) == 0 }

// Target is a normalized absolute resource URI acting as the lookup key for
// every store and authority operation. It can only be built through
// ParseTarget, so holders of a Target never need to re-validate it.
type Target struct {
	u *url.URL
}

var (
	ErrTargetNotAbsolute = errors.New("target uri must be absolute")
	ErrTargetNoHost      = errors.New("target uri must have a host")
)

// ParseTarget validates and normalizes a raw target URI.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Target{}, err
	}
	if !u.IsAbs() {
		return Target{}, ErrTargetNotAbsolute
	}
	if u.Host == "" {
		return Target{}, ErrTargetNoHost
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return Target{u: u}, nil
}

// MustTarget is ParseTarget for fixed inputs; it panics on error.
func MustTarget(raw string) Target {
	t, err := ParseTarget(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// Zero reports whether the target was never parsed.
func (t Target) Zero() bool { return t.u == nil }

// Host returns the lowercase host (with port, if any).
func (t Target) Host() string {
	if t.u == nil {
		return ""
	}
	return t.u.Host
}

// Hostname returns the host without any port.
func (t Target) Hostname() string {
	if t.u == nil {
		return ""
	}
	return t.u.Hostname()
}

// String renders the normalized URI; this exact value is the store key.
func (t Target) String() string {
	if t.u == nil {
		return ""
	}
	return t.u.String()
}

// URL returns a copy of the underlying URL for request building.
func (t Target) URL() *url.URL {
	if t.u == nil {
		return nil
	}
	c := *t.u
	return &c
}
