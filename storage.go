package giftwell

import "sync"

// ============================================================================
// Collaborator Boundaries
// ============================================================================

// TokenKey is the credential-store key holding the bearer token the stream
// client authenticates with. The SDK only ever reads it.
const TokenKey = "giftwell.token"

// CredentialStore is the read-only credential collaborator. Token refresh and
// persistence belong to the host application.
type CredentialStore interface {
	Get(key string) (string, bool)
}

// SnapshotStore is the optional local persistence collaborator. It caches a
// serialized chat-list snapshot so the UI can paint a last-known state before
// the first network round-trip; it is never authoritative.
type SnapshotStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Remove(key string)
}

// snapshotKey is where the store keeps its chat-list snapshot.
const snapshotKey = "giftwell.chats"

// ============================================================================
// MemoryStorage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory backend implementing both
// CredentialStore and SnapshotStore. Tests and the CLI use it; mobile hosts
// supply their own keychain/disk-backed implementations.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

// Get returns the raw value for key.
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *MemoryStorage) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Remove deletes key.
func (s *MemoryStorage) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// credentialView adapts MemoryStorage to the string-typed CredentialStore.
type credentialView struct {
	s *MemoryStorage
}

// Credentials returns a CredentialStore view over the storage.
func (s *MemoryStorage) Credentials() CredentialStore {
	return credentialView{s: s}
}

func (v credentialView) Get(key string) (string, bool) {
	b, ok := v.s.Get(key)
	if !ok || len(b) == 0 {
		return "", false
	}
	return string(b), true
}

// StaticCredentials is a CredentialStore holding a single fixed token,
// convenient for tests and short-lived CLI sessions.
type StaticCredentials struct {
	Token string
}

func (c StaticCredentials) Get(key string) (string, bool) {
	if key == TokenKey && c.Token != "" {
		return c.Token, true
	}
	return "", false
}
