// internal/httpapi/server.go
package httpapi

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"credhost/pkg/broker"
	"credhost/pkg/middleware"
	"credhost/pkg/tokens"
)

// App exposes the credential broker over HTTP. Brokers are built lazily per
// target (the factory probes the authority once) and cached for the process
// lifetime.
type App struct {
	deps  broker.Deps
	scope tokens.TokenScope
	log   *zap.SugaredLogger

	mu      sync.Mutex
	brokers map[string]*broker.Broker
}

func NewApp(deps broker.Deps, scope tokens.TokenScope, log *zap.SugaredLogger) *App {
	return &App{deps: deps, scope: scope, log: log, brokers: map[string]*broker.Broker{}}
}

// Router assembles the service routes with the standard middleware chain.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.Tracing())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/credentials", a.getCredentials)
		r.Delete("/credentials", a.deleteCredentials)
		r.Post("/credentials/refresh", a.refreshCredentials)
		r.Post("/credentials/validate", a.validateCredentials)
		r.Post("/tokens/refresh", a.storeRefreshToken)
		r.Post("/tokens/federated", a.storeFederatedToken)
	})
	return r
}

// brokerFor returns the cached broker for target, running detection on first
// use. ok is false when the target is not protected by the managed authority.
func (a *App) brokerFor(r *http.Request, target tokens.Target) (*broker.Broker, bool) {
	a.mu.Lock()
	if b, ok := a.brokers[target.String()]; ok {
		a.mu.Unlock()
		return b, true
	}
	a.mu.Unlock()

	b, ok := broker.New(r.Context(), a.deps, target, a.scope)
	if !ok {
		return nil, false
	}
	a.mu.Lock()
	// Concurrent detection of the same target: keep the first one in.
	if prev, dup := a.brokers[target.String()]; dup {
		b = prev
	} else {
		a.brokers[target.String()] = b
	}
	a.mu.Unlock()
	return b, true
}
