// pkg/stores/postgres.go
package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"credhost/pkg/tokens"
)

const pgOpTimeout = 5 * time.Second

// EnsureSchema creates the credential tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credentials (
  target text PRIMARY KEY,
  username text NOT NULL,
  secret text NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS broker_tokens (
  target text,
  kind text,
  value text NOT NULL,
  token_type int NOT NULL,
  tenant_id uuid,
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (target, kind)
);
`)
	return err
}

// PostgresCredentialStore implements CredentialStore backed by PostgreSQL.
type PostgresCredentialStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

func NewPostgresCredentialStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) *PostgresCredentialStore {
	return &PostgresCredentialStore{dbPool: dbPool, log: log}
}

func (s *PostgresCredentialStore) ReadCredential(key tokens.Target) (tokens.Credential, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	row := s.dbPool.QueryRow(ctx, `SELECT username, secret FROM credentials WHERE target=$1`, key.String())
	var c tokens.Credential
	if err := row.Scan(&c.Username, &c.Secret); err != nil {
		return tokens.Credential{}, false
	}
	return c, true
}

func (s *PostgresCredentialStore) WriteCredential(key tokens.Target, cred tokens.Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := s.dbPool.Exec(ctx, `INSERT INTO credentials(target,username,secret,updated_at)
	  VALUES ($1,$2,$3,NOW())
	  ON CONFLICT (target) DO UPDATE SET username=EXCLUDED.username,secret=EXCLUDED.secret,updated_at=NOW()`,
		key.String(), cred.Username, cred.Secret)
	if err != nil {
		s.log.Warnw("pg write credential", "key", key.Host(), "err", err)
	}
}

func (s *PostgresCredentialStore) DeleteCredential(key tokens.Target) bool {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	tag, err := s.dbPool.Exec(ctx, `DELETE FROM credentials WHERE target=$1`, key.String())
	if err != nil {
		s.log.Warnw("pg delete credential", "key", key.Host(), "err", err)
		return false
	}
	return tag.RowsAffected() > 0
}

// PostgresTokenStore implements TokenStore backed by PostgreSQL. kind keeps
// refresh tokens and federated tokens in separate keyspaces.
type PostgresTokenStore struct {
	dbPool *pgxpool.Pool
	kind   string
	log    *zap.SugaredLogger
}

func NewPostgresTokenStore(dbPool *pgxpool.Pool, kind string, log *zap.SugaredLogger) *PostgresTokenStore {
	return &PostgresTokenStore{dbPool: dbPool, kind: kind, log: log}
}

func (s *PostgresTokenStore) ReadToken(key tokens.Target) (tokens.Token, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	row := s.dbPool.QueryRow(ctx, `SELECT value, token_type, COALESCE(tenant_id,'00000000-0000-0000-0000-000000000000') FROM broker_tokens WHERE target=$1 AND kind=$2`,
		key.String(), s.kind)
	var value string
	var typ int
	var tenant uuid.UUID
	if err := row.Scan(&value, &typ, &tenant); err != nil {
		return tokens.Token{}, false
	}
	return tokens.NewTenantToken(value, tokens.TokenType(typ), tenant), true
}

func (s *PostgresTokenStore) WriteToken(key tokens.Target, tok tokens.Token) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := s.dbPool.Exec(ctx, `INSERT INTO broker_tokens(target,kind,value,token_type,tenant_id,updated_at)
	  VALUES ($1,$2,$3,$4,$5,NOW())
	  ON CONFLICT (target, kind) DO UPDATE SET value=EXCLUDED.value,token_type=EXCLUDED.token_type,tenant_id=EXCLUDED.tenant_id,updated_at=NOW()`,
		key.String(), s.kind, tok.Value, int(tok.Type), tok.TargetIdentity)
	if err != nil {
		s.log.Warnw("pg write token", "kind", s.kind, "key", key.Host(), "err", err)
	}
}

func (s *PostgresTokenStore) DeleteToken(key tokens.Target) bool {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	tag, err := s.dbPool.Exec(ctx, `DELETE FROM broker_tokens WHERE target=$1 AND kind=$2`, key.String(), s.kind)
	if err != nil {
		s.log.Warnw("pg delete token", "kind", s.kind, "key", key.Host(), "err", err)
		return false
	}
	return tag.RowsAffected() > 0
}
