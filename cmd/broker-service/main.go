// cmd/broker-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credhost/internal/httpapi"
	"credhost/pkg/authority"
	"credhost/pkg/broker"
	"credhost/pkg/config"
	"credhost/pkg/db"
	"credhost/pkg/logger"
	"credhost/pkg/metrics"
	"credhost/pkg/stores"
	"credhost/pkg/tokens"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	if err := metrics.Register(nil); err != nil {
		log.Fatalw("metrics register", "err", err)
	}

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	// Store backend selection: Postgres wins over Redis, memory is the dev
	// fallback. The federated cache is always process-local: the IDE hands its
	// token to this process and it must not outlive it.
	var (
		patStore     stores.CredentialStore
		refreshStore stores.TokenStore
	)
	switch {
	case pool != nil:
		if err := stores.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		patStore = stores.NewPostgresCredentialStore(pool, log)
		refreshStore = stores.NewPostgresTokenStore(pool, "refresh", log)
	case rdb != nil:
		patStore = stores.NewRedisCredentialStore(rdb, log)
		refreshStore = stores.NewRedisTokenStore(rdb, "refresh", log)
	default:
		patStore = stores.NewMemoryCredentialStore()
		refreshStore = stores.NewMemoryTokenStore()
	}
	federated := stores.NewMemoryTokenStore()

	profiles, err := config.LoadScopeProfiles(cfg.ScopeProfileFile)
	if err != nil {
		log.Fatalw("scope profiles", "err", err)
	}
	scope := tokens.NewTokenScope(profiles.Resolve(cfg.ScopeProfile, cfg.DefaultScope))

	deps := broker.Deps{
		Detector:       authority.NewDetector(cfg.BaseDomain, cfg.ProbeTimeout, log),
		Client:         authority.NewOAuthClient(cfg.AuthorityHost, nil, log),
		PATStore:       patStore,
		RefreshStore:   refreshStore,
		FederatedCache: federated,
		ClientID:       cfg.ClientID,
		Resource:       cfg.Resource,
		Log:            log,
	}

	app := httpapi.NewApp(deps, scope, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Router()}
	go func() {
		log.Infow("broker-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("broker-service stopped")
}
