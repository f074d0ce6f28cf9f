package authority

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"credhost/pkg/logger"
	"credhost/pkg/tokens"
)

// unsignedJWT builds a syntactically valid JWS carrying claims; the client
// reads claims without verifying signatures, so a dummy signature suffices.
func unsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return enc(header) + "." + enc(claims) + "." + sig
}

func TestExchangeRefreshToken_Success(t *testing.T) {
	tenant := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	access := unsignedJWT(t, map[string]any{"tid": tenant.String(), "sub": "user"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/common/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.Equal(t, DefaultClientID, r.FormValue("client_id"))
		require.Equal(t, DefaultResource, r.FormValue("resource"))
		require.Equal(t, "old-refresh", r.FormValue("refresh_token"))
		writeJSON(w, map[string]string{
			"access_token":  access,
			"refresh_token": "new-refresh",
			"token_type":    "Bearer",
		})
	}))
	defer srv.Close()

	c := NewOAuthClient(srv.URL, nil, logger.Nop())
	target := tokens.MustTarget("https://contoso.visualstudio.com/")
	pair, err := c.ExchangeRefreshToken(context.Background(), target, DefaultClientID, DefaultResource, tokens.NewToken("old-refresh", tokens.TypeRefresh))

	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Equal(t, access, pair.AccessToken.Value)
	require.Equal(t, tokens.TypeAccess, pair.AccessToken.Type)
	require.Equal(t, tenant, pair.AccessToken.TargetIdentity, "tenant must come from the tid claim")
	require.Equal(t, "new-refresh", pair.RefreshToken.Value)
}

func TestExchangeRefreshToken_TenantBoundEndpoint(t *testing.T) {
	tenant := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/"+tenant.String()+"/oauth2/token", r.URL.Path)
		writeJSON(w, map[string]string{"access_token": unsignedJWT(t, map[string]any{"tid": tenant.String()})})
	}))
	defer srv.Close()

	c := NewOAuthClient(srv.URL, nil, logger.Nop())
	target := tokens.MustTarget("https://contoso.visualstudio.com/")
	refresh := tokens.NewTenantToken("rt", tokens.TypeRefresh, tenant)
	pair, err := c.ExchangeRefreshToken(context.Background(), target, DefaultClientID, DefaultResource, refresh)
	require.NoError(t, err)
	require.NotNil(t, pair)
}

func TestExchangeRefreshToken_RejectedYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOAuthClient(srv.URL, nil, logger.Nop())
	target := tokens.MustTarget("https://contoso.visualstudio.com/")
	pair, err := c.ExchangeRefreshToken(context.Background(), target, DefaultClientID, DefaultResource, tokens.NewToken("expired", tokens.TypeRefresh))

	require.NoError(t, err, "a rejected refresh token is not an error")
	require.Nil(t, pair)
}

func TestExchangeRefreshToken_TransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewOAuthClient(url, nil, logger.Nop())
	target := tokens.MustTarget("https://contoso.visualstudio.com/")
	_, err := c.ExchangeRefreshToken(context.Background(), target, DefaultClientID, DefaultResource, tokens.NewToken("rt", tokens.TypeRefresh))
	require.Error(t, err)
}

func TestGeneratePersonalAccessToken(t *testing.T) {
	tenant := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	var gotCompact bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_apis/token/sessiontokens", r.URL.Path)
		require.Equal(t, "1.0", r.URL.Query().Get("api-version"))
		require.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		gotCompact = r.URL.Query().Get("tokentype") == "compact"
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "vso.code_write", body["scope"])
		writeJSON(w, map[string]string{"token": "generated-pat"})
	}))
	defer srv.Close()

	c := NewOAuthClient("", nil, logger.Nop())
	target := tokens.MustTarget(srv.URL)
	access := tokens.NewTenantToken("at", tokens.TypeAccess, tenant)

	pat, err := c.GeneratePersonalAccessToken(context.Background(), target, access, tokens.NewTokenScope("vso.code_write"), true)
	require.NoError(t, err)
	require.NotNil(t, pat)
	require.True(t, gotCompact)
	require.Equal(t, "generated-pat", pat.Value)
	require.Equal(t, tokens.TypePersonalAccess, pat.Type)
	require.Equal(t, tenant, pat.TargetIdentity)
}

func TestGeneratePersonalAccessToken_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewOAuthClient("", nil, logger.Nop())
	pat, err := c.GeneratePersonalAccessToken(context.Background(), tokens.MustTarget(srv.URL), tokens.NewToken("at", tokens.TypeAccess), tokens.NewTokenScope("vso.code"), false)
	require.NoError(t, err)
	require.Nil(t, pat)
}

func TestValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_apis/connectiondata", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		if !ok || user != tokens.PersonalAccessTokenUserName || pass != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewOAuthClient("", nil, logger.Nop())
	target := tokens.MustTarget(srv.URL)

	require.True(t, c.ValidateCredentials(context.Background(), target, tokens.Credential{Username: tokens.PersonalAccessTokenUserName, Secret: "good"}))
	require.False(t, c.ValidateCredentials(context.Background(), target, tokens.Credential{Username: tokens.PersonalAccessTokenUserName, Secret: "bad"}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
