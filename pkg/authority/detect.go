// pkg/authority/detect.go
package authority

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credhost/pkg/tokens"
)

// Well-known constants of the identity provider being integrated with.
const (
	// DefaultBaseDomain is the hosted service's base domain; a target is only
	// probed when its host ends with this suffix.
	DefaultBaseDomain = "visualstudio.com"

	// ResourceTenantHeader carries the owning tenant GUID in probe responses.
	ResourceTenantHeader = "X-VSS-ResourceTenant"

	// DefaultClientID is the well-known OAuth client identifier.
	DefaultClientID = "872cd9fa-d31f-45e0-9eab-6e460a02d1f1"

	// DefaultResource is the OAuth resource identifier of the service.
	DefaultResource = "499b84ac-1321-427f-aa17-267ca6975798"

	// RedirectURI is the out-of-band redirect used by the native-client flow.
	RedirectURI = "urn:ietf:wg:oauth:2.0:oob"

	// DefaultAuthorityHost is the identity authority's base URL.
	DefaultAuthorityHost = "https://login.microsoftonline.com"

	userAgent = "credhost"
)

// Detector probes a target URI to decide whether it is protected by the
// managed identity authority and, if so, which tenant owns it.
type Detector struct {
	baseDomain string
	client     *http.Client
	log        *zap.SugaredLogger
}

// NewDetector builds a detector. baseDomain falls back to DefaultBaseDomain
// when empty. The probe client never follows redirects: a redirect to an
// interactive sign-in page is itself the signal we want to inspect.
func NewDetector(baseDomain string, timeout time.Duration, log *zap.SugaredLogger) *Detector {
	if baseDomain == "" {
		baseDomain = DefaultBaseDomain
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Detector{
		baseDomain: strings.ToLower(baseDomain),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

// Detect classifies target. It returns (false, EmptyTenant) for hosts outside
// the base domain without issuing any request, and for inconclusive probes.
// Detection failure is not an error; it is the documented signal to fall back
// to a different authentication method, so network-level failures are only
// logged.
func (d *Detector) Detect(ctx context.Context, target tokens.Target) (bool, uuid.UUID) {
	host := target.Hostname()
	if !strings.HasSuffix(strings.ToLower(host), d.baseDomain) {
		return false, tokens.EmptyTenant
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		d.log.Warnw("probe request build", "host", host, "err", err)
		return false, tokens.EmptyTenant
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		// No response at all: inconclusive.
		d.log.Debugw("probe failed", "host", host, "err", err)
		return false, tokens.EmptyTenant
	}
	defer resp.Body.Close()

	// Any response with headers is usable signal, including 3xx/4xx.
	raw := resp.Header.Get(ResourceTenantHeader)
	if raw == "" {
		return false, tokens.EmptyTenant
	}
	tenant, err := uuid.Parse(raw)
	if err != nil {
		d.log.Debugw("probe tenant header unparsable", "host", host, "value", raw)
		return false, tokens.EmptyTenant
	}
	return true, tenant
}
