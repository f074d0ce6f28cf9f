// pkg/stores/redis.go
package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"credhost/pkg/tokens"
)

const redisOpTimeout = 5 * time.Second

type storedCredential struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type storedToken struct {
	Value  string    `json:"value"`
	Type   int       `json:"type"`
	Tenant uuid.UUID `json:"tenant"`
}

// RedisCredentialStore keeps credentials under credhost:pat:<target>.
type RedisCredentialStore struct {
	cli *redis.Client
	log *zap.SugaredLogger
}

func NewRedisCredentialStore(cli *redis.Client, log *zap.SugaredLogger) *RedisCredentialStore {
	return &RedisCredentialStore{cli: cli, log: log}
}

func (s *RedisCredentialStore) key(k tokens.Target) string { return "credhost:pat:" + k.String() }

func (s *RedisCredentialStore) ReadCredential(key tokens.Target) (tokens.Credential, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, err := s.cli.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Warnw("redis read credential", "key", key.Host(), "err", err)
		}
		return tokens.Credential{}, false
	}
	var sc storedCredential
	if err := json.Unmarshal(raw, &sc); err != nil {
		s.log.Warnw("redis credential decode", "key", key.Host(), "err", err)
		return tokens.Credential{}, false
	}
	return tokens.Credential{Username: sc.Username, Secret: sc.Secret}, true
}

func (s *RedisCredentialStore) WriteCredential(key tokens.Target, cred tokens.Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, _ := json.Marshal(storedCredential{Username: cred.Username, Secret: cred.Secret})
	if err := s.cli.Set(ctx, s.key(key), raw, 0).Err(); err != nil {
		s.log.Warnw("redis write credential", "key", key.Host(), "err", err)
	}
}

func (s *RedisCredentialStore) DeleteCredential(key tokens.Target) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	n, err := s.cli.Del(ctx, s.key(key)).Result()
	if err != nil {
		s.log.Warnw("redis delete credential", "key", key.Host(), "err", err)
		return false
	}
	return n > 0
}

// RedisTokenStore keeps tokens under credhost:token:<kind>:<target>. Separate
// instances (refresh store, federated cache) use distinct kinds so they never
// collide on the same target.
type RedisTokenStore struct {
	cli  *redis.Client
	kind string
	log  *zap.SugaredLogger
}

func NewRedisTokenStore(cli *redis.Client, kind string, log *zap.SugaredLogger) *RedisTokenStore {
	return &RedisTokenStore{cli: cli, kind: kind, log: log}
}

func (s *RedisTokenStore) key(k tokens.Target) string {
	return "credhost:token:" + s.kind + ":" + k.String()
}

func (s *RedisTokenStore) ReadToken(key tokens.Target) (tokens.Token, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, err := s.cli.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Warnw("redis read token", "kind", s.kind, "key", key.Host(), "err", err)
		}
		return tokens.Token{}, false
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		s.log.Warnw("redis token decode", "kind", s.kind, "key", key.Host(), "err", err)
		return tokens.Token{}, false
	}
	return tokens.NewTenantToken(st.Value, tokens.TokenType(st.Type), st.Tenant), true
}

func (s *RedisTokenStore) WriteToken(key tokens.Target, tok tokens.Token) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, _ := json.Marshal(storedToken{Value: tok.Value, Type: int(tok.Type), Tenant: tok.TargetIdentity})
	if err := s.cli.Set(ctx, s.key(key), raw, 0).Err(); err != nil {
		s.log.Warnw("redis write token", "kind", s.kind, "key", key.Host(), "err", err)
	}
}

func (s *RedisTokenStore) DeleteToken(key tokens.Target) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	n, err := s.cli.Del(ctx, s.key(key)).Result()
	if err != nil {
		s.log.Warnw("redis delete token", "kind", s.kind, "key", key.Host(), "err", err)
		return false
	}
	return n > 0
}
