// pkg/stores/memory.go
package stores

import (
	"sync"

	"credhost/pkg/tokens"
)

// MemoryCredentialStore is a process-local CredentialStore. Safe for
// concurrent use by key; individual operations are atomic, multi-step
// sequences are not.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]tokens.Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: map[string]tokens.Credential{}}
}

func (s *MemoryCredentialStore) ReadCredential(key tokens.Target) (tokens.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[key.String()]
	return c, ok
}

func (s *MemoryCredentialStore) WriteCredential(key tokens.Target, cred tokens.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key.String()] = cred
}

func (s *MemoryCredentialStore) DeleteCredential(key tokens.Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[key.String()]; !ok {
		return false
	}
	delete(s.creds, key.String())
	return true
}

// MemoryTokenStore is a process-local TokenStore. The broker daemon also uses
// one instance as the IDE federated-token cache, created once per process and
// handed to brokers at construction.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	toks map[string]tokens.Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{toks: map[string]tokens.Token{}}
}

func (s *MemoryTokenStore) ReadToken(key tokens.Target) (tokens.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.toks[key.String()]
	return t, ok
}

func (s *MemoryTokenStore) WriteToken(key tokens.Target, tok tokens.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toks[key.String()] = tok
}

func (s *MemoryTokenStore) DeleteToken(key tokens.Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.toks[key.String()]; !ok {
		return false
	}
	delete(s.toks, key.String())
	return true
}
