// cmd/git-credential-credhost/main.go
//
// A git credential helper backed by the broker library. Git drives it with
// one of three actions (get / store / erase) and key=value attributes on
// stdin, terminated by a blank line.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"credhost/pkg/authority"
	"credhost/pkg/broker"
	"credhost/pkg/config"
	"credhost/pkg/db"
	"credhost/pkg/logger"
	"credhost/pkg/stores"
	"credhost/pkg/tokens"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: git-credential-credhost <get|store|erase>")
		os.Exit(2)
	}
	action := os.Args[1]

	cfg := config.Load()
	log := logger.New(cfg.Env)

	attrs := readAttributes(os.Stdin)
	target, err := targetFromAttributes(attrs)
	if err != nil {
		// Nothing we can answer for; stay silent so git moves to the next helper.
		log.Debugw("unusable credential request", "err", err)
		return
	}

	// The helper is short-lived, so stores must be external to the process.
	rdb := db.MustRedis(cfg, log)
	if rdb == nil {
		log.Debugw("REDIS_URL not set; helper has no store to work against")
		return
	}
	patStore := stores.NewRedisCredentialStore(rdb, log)
	refreshStore := stores.NewRedisTokenStore(rdb, "refresh", log)
	federated := stores.NewRedisTokenStore(rdb, "federated", log)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

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
	scope := tokens.NewTokenScope(cfg.DefaultScope)

	b, managed := broker.New(ctx, deps, target, scope)
	if !managed {
		// Not our authority: print nothing and let git fall through.
		return
	}

	switch action {
	case "get":
		if cred, ok := b.GetCredentials(target); ok {
			printCredential(cred)
			return
		}
		if ok, err := b.RefreshCredentials(ctx, target, true); err == nil && ok {
			if cred, found := b.GetCredentials(target); found {
				printCredential(cred)
			}
		}
	case "store":
		// Git echoes back the credential it just used; keep it as the PAT for
		// this target so the next get is a pure lookup.
		username, password := attrs["username"], attrs["password"]
		if password != "" {
			patStore.WriteCredential(target, tokens.Credential{Username: username, Secret: password})
		}
	case "erase":
		b.DeleteCredentials(target)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		os.Exit(2)
	}
}

func readAttributes(f *os.File) map[string]string {
	attrs := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			attrs[line[:i]] = line[i+1:]
		}
	}
	return attrs
}

func targetFromAttributes(attrs map[string]string) (tokens.Target, error) {
	proto := attrs["protocol"]
	if proto == "" {
		proto = "https"
	}
	host := attrs["host"]
	raw := proto + "://" + host
	if p := attrs["path"]; p != "" {
		raw += "/" + strings.TrimLeft(p, "/")
	}
	return tokens.ParseTarget(raw)
}

func printCredential(cred tokens.Credential) {
	fmt.Printf("username=%s\n", cred.Username)
	fmt.Printf("password=%s\n", cred.Secret)
}
