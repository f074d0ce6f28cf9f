package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"credhost/pkg/logger"
	"credhost/pkg/stores"
	"credhost/pkg/tokens"
)

var orgTenant = uuid.MustParse("11111111-1111-1111-1111-111111111111")

// fakeClient scripts the authority's behavior and records which calls the
// broker made.
type fakeClient struct {
	exchangePair *tokens.TokenPair
	exchangeErr  error
	pat          *tokens.Token
	patErr       error
	valid        bool

	exchangeCalls int
	patCalls      int
	validateCalls int
	patAccessSeen []tokens.Token
}

func (f *fakeClient) ExchangeRefreshToken(ctx context.Context, target tokens.Target, clientID, resource string, refresh tokens.Token) (*tokens.TokenPair, error) {
	f.exchangeCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.exchangePair, f.exchangeErr
}

func (f *fakeClient) GeneratePersonalAccessToken(ctx context.Context, target tokens.Target, access tokens.Token, scope tokens.TokenScope, compact bool) (*tokens.Token, error) {
	f.patCalls++
	f.patAccessSeen = append(f.patAccessSeen, access)
	return f.pat, f.patErr
}

func (f *fakeClient) ValidateCredentials(ctx context.Context, target tokens.Target, cred tokens.Credential) bool {
	f.validateCalls++
	return f.valid
}

type fixture struct {
	broker    *Broker
	client    *fakeClient
	patStore  *stores.MemoryCredentialStore
	refresh   *stores.MemoryTokenStore
	federated *stores.MemoryTokenStore
	target    tokens.Target
}

func newFixture(t *testing.T, tenant uuid.UUID) *fixture {
	t.Helper()
	f := &fixture{
		client:    &fakeClient{},
		patStore:  stores.NewMemoryCredentialStore(),
		refresh:   stores.NewMemoryTokenStore(),
		federated: stores.NewMemoryTokenStore(),
		target:    tokens.MustTarget("https://contoso.visualstudio.com/"),
	}
	deps := Deps{
		Client:         f.client,
		PATStore:       f.patStore,
		RefreshStore:   f.refresh,
		FederatedCache: f.federated,
		Log:            logger.Nop(),
	}
	f.broker = newWithTenant(deps, tokens.NewTokenScope("vso.code_write"), tenant)
	return f
}

func goodPAT() *tokens.Token {
	pat := tokens.NewTenantToken("fresh-pat", tokens.TypePersonalAccess, orgTenant)
	return &pat
}

func goodPair() *tokens.TokenPair {
	return &tokens.TokenPair{
		AccessToken:  tokens.NewTenantToken("at", tokens.TypeAccess, orgTenant),
		RefreshToken: tokens.NewTenantToken("rt2", tokens.TypeRefresh, orgTenant),
	}
}

func TestVariantSelection(t *testing.T) {
	require.Equal(t, KindConsumer, newFixture(t, tokens.EmptyTenant).broker.Kind())
	f := newFixture(t, orgTenant)
	require.Equal(t, KindOrganization, f.broker.Kind())
	require.Equal(t, orgTenant, f.broker.Tenant())
}

func TestGetCredentials_PureLookup(t *testing.T) {
	f := newFixture(t, orgTenant)

	_, found := f.broker.GetCredentials(f.target)
	require.False(t, found)

	f.patStore.WriteCredential(f.target, tokens.Credential{Username: "u", Secret: "p"})
	cred, found := f.broker.GetCredentials(f.target)
	require.True(t, found)
	require.Equal(t, "p", cred.Secret)

	// Never reaches the network.
	require.Zero(t, f.client.exchangeCalls)
	require.Zero(t, f.client.patCalls)
	require.Zero(t, f.client.validateCalls)
}

func TestRefresh_PrefersRefreshTokenOverFederated(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.refresh.WriteToken(f.target, tokens.NewTenantToken("rt", tokens.TypeRefresh, orgTenant))
	f.federated.WriteToken(f.target, tokens.NewToken("fed", tokens.TypeFederated))
	f.client.exchangePair = goodPair()
	f.client.pat = goodPAT()

	ok, err := f.broker.RefreshCredentials(context.Background(), f.target, false)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, f.client.exchangeCalls)
	require.Equal(t, 1, f.client.patCalls)
	// PAT generation consumed the exchanged access token, not the federated one.
	require.Equal(t, "at", f.patAccess(t).Value)

	cred, found := f.broker.GetCredentials(f.target)
	require.True(t, found)
	require.Equal(t, tokens.PersonalAccessTokenUserName, cred.Username)
	require.Equal(t, "fresh-pat", cred.Secret)
}

func (f *fixture) patAccess(t *testing.T) tokens.Token {
	t.Helper()
	require.NotEmpty(t, f.client.patAccessSeen)
	return f.client.patAccessSeen[len(f.client.patAccessSeen)-1]
}

func TestRefresh_UpdatesTenantFromAccessToken(t *testing.T) {
	f := newFixture(t, tokens.EmptyTenant)
	f.refresh.WriteToken(f.target, tokens.NewToken("rt", tokens.TypeRefresh))
	f.client.exchangePair = goodPair()
	f.client.pat = goodPAT()

	ok, err := f.broker.RefreshCredentials(context.Background(), f.target, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, orgTenant, f.broker.Tenant())
}

func TestRefresh_FallsBackToFederatedOnMissingRefreshToken(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.federated.WriteToken(f.target, tokens.NewToken("fed", tokens.TypeFederated))
	f.client.pat = goodPAT()

	ok, err := f.broker.RefreshCredentials(context.Background(), f.target, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, f.client.exchangeCalls)
	require.Equal(t, "fed", f.patAccess(t).Value)
}

func TestRefresh_FallsBackToFederatedOnFailedExchange(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.refresh.WriteToken(f.target, tokens.NewToken("rt", tokens.TypeRefresh))
	f.federated.WriteToken(f.target, tokens.NewToken("fed", tokens.TypeFederated))
	f.client.exchangeErr = errors.New("boom")
	f.client.pat = goodPAT()

	ok, err := f.broker.RefreshCredentials(context.Background(), f.target, false)
	require.NoError(t, err, "remote failures are absorbed")
	require.True(t, ok)
	require.Equal(t, 1, f.client.exchangeCalls)
	require.Equal(t, "fed", f.patAccess(t).Value)
}

func TestRefresh_SuccessfulExchangeCommitsToThatPath(t *testing.T) {
	// When the exchange works but PAT generation is refused, the federated
	// fallback is skipped.
	f := newFixture(t, orgTenant)
	f.refresh.WriteToken(f.target, tokens.NewToken("rt", tokens.TypeRefresh))
	f.federated.WriteToken(f.target, tokens.NewToken("fed", tokens.TypeFederated))
	f.client.exchangePair = goodPair()
	f.client.pat = nil

	ok, err := f.broker.RefreshCredentials(context.Background(), f.target, false)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, f.client.patCalls)
	require.Equal(t, "at", f.patAccess(t).Value)

	_, found := f.broker.GetCredentials(f.target)
	require.False(t, found, "failed generation must not touch the store")
}

func TestRefresh_NoSourcesAvailable(t *testing.T) {
	f := newFixture(t, orgTenant)

	ok, err := f.broker.RefreshCredentials(context.Background(), f.target, false)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, f.client.patCalls)
	_, found := f.broker.GetCredentials(f.target)
	require.False(t, found)
}

func TestRefresh_CancellationPropagates(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.refresh.WriteToken(f.target, tokens.NewToken("rt", tokens.TypeRefresh))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := f.broker.RefreshCredentials(ctx, f.target, false)
	require.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeleteCredentials_PATTakesPriority(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.patStore.WriteCredential(f.target, tokens.Credential{Username: "u", Secret: "p"})
	f.refresh.WriteToken(f.target, tokens.NewToken("rt", tokens.TypeRefresh))

	f.broker.DeleteCredentials(f.target)

	_, foundCred := f.patStore.ReadCredential(f.target)
	require.False(t, foundCred)
	_, foundTok := f.refresh.ReadToken(f.target)
	require.True(t, foundTok, "refresh token survives when the PAT was present")

	// Second call now falls through to the refresh store.
	f.broker.DeleteCredentials(f.target)
	_, foundTok = f.refresh.ReadToken(f.target)
	require.False(t, foundTok)
}

func TestStoreRefreshToken_Overwrites(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.broker.StoreRefreshToken(f.target, tokens.NewToken("rt1", tokens.TypeRefresh))
	f.broker.StoreRefreshToken(f.target, tokens.NewToken("rt2", tokens.TypeRefresh))

	tok, ok := f.refresh.ReadToken(f.target)
	require.True(t, ok)
	require.Equal(t, "rt2", tok.Value)
}

func TestValidateCredentials_Delegates(t *testing.T) {
	f := newFixture(t, orgTenant)
	f.client.valid = true
	require.True(t, f.broker.ValidateCredentials(context.Background(), f.target, tokens.Credential{Username: "u", Secret: "p"}))
	require.Equal(t, 1, f.client.validateCalls)
}

func TestNew_PanicsOnNilCollaborators(t *testing.T) {
	require.Panics(t, func() {
		mustDeps(Deps{})
	})
}
