// pkg/broker/broker.go
package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credhost/pkg/authority"
	"credhost/pkg/metrics"
	"credhost/pkg/stores"
	"credhost/pkg/tokens"
)

// Kind selects the broker variant chosen by authority detection.
type Kind int

const (
	// KindConsumer is the consumer-identity variant (empty tenant).
	KindConsumer Kind = iota + 1
	// KindOrganization is the organizational-identity variant, bound to the
	// detected tenant.
	KindOrganization
)

func (k Kind) String() string {
	switch k {
	case KindConsumer:
		return "consumer"
	case KindOrganization:
		return "organization"
	}
	return "unknown"
}

// Deps are the broker's collaborators. PATStore, RefreshStore and Client are
// required; FederatedCache is the IDE-provided token cache and may be nil when
// no IDE source exists. ClientID and Resource default to the provider's
// well-known constants.
type Deps struct {
	Detector       *authority.Detector
	Client         authority.Client
	PATStore       stores.CredentialStore
	RefreshStore   stores.TokenStore
	FederatedCache stores.TokenStore
	ClientID       string
	Resource       string
	Log            *zap.SugaredLogger
}

// Broker orchestrates the token-acquisition state machine for one target's
// authority. It owns no secret state: secrets live in the stores, and tokens
// obtained during an operation never outlive the call.
type Broker struct {
	kind     Kind
	clientID string
	resource string
	scope    tokens.TokenScope

	patStore       stores.CredentialStore
	refreshStore   stores.TokenStore
	federatedCache stores.TokenStore
	client         authority.Client
	log            *zap.SugaredLogger

	mu     sync.Mutex
	tenant uuid.UUID
}

// New is the broker factory: it probes target and, when the target belongs to
// the managed authority, returns the variant matching the detected tenant.
// The false return directs the caller to fall back to another authentication
// method. Nil required collaborators are programming faults and panic.
func New(ctx context.Context, deps Deps, target tokens.Target, scope tokens.TokenScope) (*Broker, bool) {
	mustDeps(deps)
	ok, tenant := deps.Detector.Detect(ctx, target)
	if !ok {
		metrics.DetectorProbes.WithLabelValues("unmanaged").Inc()
		return nil, false
	}
	metrics.DetectorProbes.WithLabelValues("managed").Inc()
	b := newWithTenant(deps, scope, tenant)
	b.log.Infow("broker selected", "variant", b.kind.String(), "tenant", tenant, "host", target.Host())
	return b, true
}

// newWithTenant builds the variant for an already-detected tenant.
func newWithTenant(deps Deps, scope tokens.TokenScope, tenant uuid.UUID) *Broker {
	kind := KindConsumer
	if tenant != tokens.EmptyTenant {
		kind = KindOrganization
	}
	clientID := deps.ClientID
	if clientID == "" {
		clientID = authority.DefaultClientID
	}
	resource := deps.Resource
	if resource == "" {
		resource = authority.DefaultResource
	}
	return &Broker{
		kind:           kind,
		clientID:       clientID,
		resource:       resource,
		scope:          scope,
		patStore:       deps.PATStore,
		refreshStore:   deps.RefreshStore,
		federatedCache: deps.FederatedCache,
		client:         deps.Client,
		log:            deps.Log,
		tenant:         tenant,
	}
}

func mustDeps(deps Deps) {
	switch {
	case deps.Detector == nil:
		panic("broker: nil detector")
	case deps.Client == nil:
		panic("broker: nil authority client")
	case deps.PATStore == nil:
		panic("broker: nil PAT store")
	case deps.RefreshStore == nil:
		panic("broker: nil refresh-token store")
	case deps.Log == nil:
		panic("broker: nil logger")
	}
}

// Kind reports which variant the factory selected.
func (b *Broker) Kind() Kind { return b.kind }

// Tenant returns the tenant the broker is currently bound to. A successful
// refresh updates it from the exchanged access token.
func (b *Broker) Tenant() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tenant
}

func (b *Broker) setTenant(t uuid.UUID) {
	b.mu.Lock()
	b.tenant = t
	b.mu.Unlock()
}

// GetCredentials is a pure PAT-store lookup: no network call, no fallback, no
// store mutation.
func (b *Broker) GetCredentials(target tokens.Target) (tokens.Credential, bool) {
	return b.patStore.ReadCredential(target)
}

// DeleteCredentials removes the stored PAT for target; only when nothing was
// stored there does it fall back to deleting the refresh token. At most one of
// the two stores is mutated per call.
func (b *Broker) DeleteCredentials(target tokens.Target) {
	if b.patStore.DeleteCredential(target) {
		return
	}
	b.refreshStore.DeleteToken(target)
}

// StoreRefreshToken writes tok into the refresh-token store, overwriting any
// prior value for target.
func (b *Broker) StoreRefreshToken(target tokens.Target, tok tokens.Token) {
	b.refreshStore.WriteToken(target, tok)
}

// ValidateCredentials delegates to the authority client; no local state
// changes, no fallback.
func (b *Broker) ValidateCredentials(ctx context.Context, target tokens.Target, cred tokens.Credential) bool {
	return b.client.ValidateCredentials(ctx, target, cred)
}

// refreshOutcome is the internal three-state result of a refresh attempt; the
// public boundary reduces it to the documented boolean.
type refreshOutcome int

const (
	refreshOK refreshOutcome = iota + 1
	refreshNoSource
	refreshFailed
)

// RefreshCredentials runs the ordered fallback state machine: the stored
// refresh token first, then the IDE federated token, each feeding PAT
// generation. A successful generation persists the PAT into the PAT store.
//
// Remote failures never propagate: they are logged and reduced to false. The
// only non-nil error is a context cancellation or deadline, which stays
// distinguishable from a failed exchange.
func (b *Broker) RefreshCredentials(ctx context.Context, target tokens.Target, requireCompactToken bool) (bool, error) {
	// Step 1: stored refresh token.
	if rt, ok := b.refreshStore.ReadToken(target); ok {
		pair, err := b.client.ExchangeRefreshToken(ctx, target, b.clientID, b.resource, rt)
		switch {
		case err != nil:
			if isCancellation(ctx, err) {
				return false, err
			}
			b.log.Warnw("refresh exchange failed", "host", target.Host(), "err", err)
			metrics.RefreshAttempts.WithLabelValues("refresh_token", "failed").Inc()
			// Fall through to the federated source.
		case pair != nil && !pair.AccessToken.Zero():
			b.setTenant(pair.AccessToken.TargetIdentity)
			out, err := b.generatePAT(ctx, target, pair.AccessToken, requireCompactToken)
			metrics.RefreshAttempts.WithLabelValues("refresh_token", outcomeLabel(out)).Inc()
			// A successful exchange commits to this path; the federated
			// fallback is skipped even when generation fails.
			return out == refreshOK, err
		default:
			metrics.RefreshAttempts.WithLabelValues("refresh_token", "rejected").Inc()
		}
	}

	// Step 2: IDE-provided federated token.
	if b.federatedCache != nil {
		if ft, ok := b.federatedCache.ReadToken(target); ok {
			out, err := b.generatePAT(ctx, target, ft, requireCompactToken)
			metrics.RefreshAttempts.WithLabelValues("federated", outcomeLabel(out)).Inc()
			return out == refreshOK, err
		}
	}

	metrics.RefreshAttempts.WithLabelValues("none", "no_source").Inc()
	return false, nil
}

// generatePAT asks the authority for a personal access token and, on success,
// persists it as a credential under target. A refused generation leaves the
// store untouched.
func (b *Broker) generatePAT(ctx context.Context, target tokens.Target, access tokens.Token, compact bool) (refreshOutcome, error) {
	pat, err := b.client.GeneratePersonalAccessToken(ctx, target, access, b.scope, compact)
	if err != nil {
		if isCancellation(ctx, err) {
			return refreshFailed, err
		}
		b.log.Warnw("pat generation failed", "host", target.Host(), "err", err)
		return refreshFailed, nil
	}
	if pat == nil || pat.Zero() {
		return refreshNoSource, nil
	}
	b.patStore.WriteCredential(target, tokens.NewCredential(*pat))
	metrics.PatsGenerated.Inc()
	return refreshOK, nil
}

func outcomeLabel(o refreshOutcome) string {
	switch o {
	case refreshOK:
		return "ok"
	case refreshNoSource:
		return "refused"
	}
	return "failed"
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
