// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string // broker-service

	// Authority / detection
	BaseDomain    string // suffix a target host must carry to be probed
	AuthorityHost string
	ClientID      string // empty -> provider default
	Resource      string // empty -> provider default
	ProbeTimeout  time.Duration

	// Default PAT scope and optional named profiles (YAML file)
	DefaultScope     string
	ScopeProfile     string // profile name selected from the file
	ScopeProfileFile string

	// Stores
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:              env("CREDHOST_ENV", "dev"),
		HTTPAddr:         env("CREDHOST_HTTP_ADDR", ":8090"),
		BaseDomain:       env("CREDHOST_BASE_DOMAIN", ""),
		AuthorityHost:    env("CREDHOST_AUTHORITY_HOST", ""),
		ClientID:         env("CREDHOST_CLIENT_ID", ""),
		Resource:         env("CREDHOST_RESOURCE", ""),
		ProbeTimeout:     envDur("CREDHOST_PROBE_TIMEOUT_SEC", 15) * time.Second,
		DefaultScope:     env("CREDHOST_DEFAULT_SCOPE", "vso.code_write vso.packaging_write"),
		ScopeProfile:     env("CREDHOST_SCOPE_PROFILE", ""),
		ScopeProfileFile: env("CREDHOST_SCOPE_PROFILES", ""),
		RedisURL:         env("REDIS_URL", ""),
		DatabaseURL:      env("DATABASE_URL", ""),
	}
	if cfg.RedisURL == "" && cfg.DatabaseURL == "" {
		log.Println("[WARN] neither REDIS_URL nor DATABASE_URL set — using in-memory stores (secrets do not survive restarts)")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
