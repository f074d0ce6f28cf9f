// pkg/authority/oauth.go
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"credhost/pkg/tokens"
)

// OAuthClient is the production Client: it speaks the authority's OAuth token
// endpoint and the service's session-token and connection-data APIs.
type OAuthClient struct {
	authorityHost string
	http          *http.Client
	log           *zap.SugaredLogger
}

// NewOAuthClient builds a client against authorityHost (empty means
// DefaultAuthorityHost). httpClient may be nil.
func NewOAuthClient(authorityHost string, httpClient *http.Client, log *zap.SugaredLogger) *OAuthClient {
	if authorityHost == "" {
		authorityHost = DefaultAuthorityHost
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClient{authorityHost: strings.TrimRight(authorityHost, "/"), http: httpClient, log: log}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    any    `json:"expires_in"`
}

// tokenEndpoint builds the per-tenant token URL; the empty tenant maps to the
// shared "common" endpoint (consumer identity).
func (c *OAuthClient) tokenEndpoint(tenant uuid.UUID) string {
	path := "common"
	if tenant != tokens.EmptyTenant {
		path = tenant.String()
	}
	return c.authorityHost + "/" + path + "/oauth2/token"
}

func (c *OAuthClient) ExchangeRefreshToken(ctx context.Context, target tokens.Target, clientID, resource string, refresh tokens.Token) (*tokens.TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientID)
	form.Set("resource", resource)
	form.Set("refresh_token", refresh.Value)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(refresh.TargetIdentity), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Rejected / expired refresh token: signal "nothing", not an error.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Debugw("refresh exchange rejected", "target", target.Host(), "status", resp.StatusCode, "body", string(body))
		return nil, nil
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		c.log.Debugw("refresh exchange malformed response", "target", target.Host(), "err", err)
		return nil, nil
	}
	if tr.AccessToken == "" {
		return nil, nil
	}

	tenant := tenantFromAccessToken(tr.AccessToken)
	pair := &tokens.TokenPair{
		AccessToken:  tokens.NewTenantToken(tr.AccessToken, tokens.TypeAccess, tenant),
		RefreshToken: tokens.NewTenantToken(tr.RefreshToken, tokens.TypeRefresh, tenant),
	}
	return pair, nil
}

// tenantFromAccessToken reads the tid claim out of the access token. The token
// was just received from the authority over TLS, so it is parsed without
// signature verification.
func tenantFromAccessToken(raw string) uuid.UUID {
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return tokens.EmptyTenant
	}
	if v, ok := tok.Get("tid"); ok {
		if s, _ := v.(string); s != "" {
			if id, err := uuid.Parse(s); err == nil {
				return id
			}
		}
	}
	return tokens.EmptyTenant
}

type sessionTokenRequest struct {
	Scope       string `json:"scope"`
	DisplayName string `json:"displayName"`
}

type sessionTokenResponse struct {
	Token string `json:"token"`
}

func (c *OAuthClient) GeneratePersonalAccessToken(ctx context.Context, target tokens.Target, access tokens.Token, scope tokens.TokenScope, compact bool) (*tokens.Token, error) {
	u := target.URL()
	u.Path = strings.TrimRight(u.Path, "/") + "/_apis/token/sessiontokens"
	q := url.Values{"api-version": {"1.0"}}
	if compact {
		q.Set("tokentype", "compact")
	}
	u.RawQuery = q.Encode()

	body, _ := json.Marshal(sessionTokenRequest{Scope: scope.String(), DisplayName: "credhost"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+access.Value)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debugw("pat generation refused", "target", target.Host(), "status", resp.StatusCode)
		return nil, nil
	}
	var str sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&str); err != nil || str.Token == "" {
		c.log.Debugw("pat generation malformed response", "target", target.Host(), "err", err)
		return nil, nil
	}
	pat := tokens.NewTenantToken(str.Token, tokens.TypePersonalAccess, access.TargetIdentity)
	return &pat, nil
}

func (c *OAuthClient) ValidateCredentials(ctx context.Context, target tokens.Target, cred tokens.Credential) bool {
	u := target.URL()
	u.Path = strings.TrimRight(u.Path, "/") + "/_apis/connectiondata"

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return false
	}
	req.SetBasicAuth(cred.Username, cred.Secret)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden && resp.StatusCode < 500
}
