package giftwell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()

	t.Run("missing key", func(t *testing.T) {
		_, ok := s.Get("nope")
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		s.Set("k", []byte("v"))
		v, ok := s.Get("k")
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("overwrite", func(t *testing.T) {
		s.Set("k", []byte("v2"))
		v, _ := s.Get("k")
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("remove", func(t *testing.T) {
		s.Remove("k")
		_, ok := s.Get("k")
		assert.False(t, ok)
	})
}

func TestCredentialView(t *testing.T) {
	s := NewMemoryStorage()
	creds := s.Credentials()

	_, ok := creds.Get(TokenKey)
	assert.False(t, ok, "empty storage has no token")

	s.Set(TokenKey, []byte("gw-token"))
	token, ok := creds.Get(TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "gw-token", token)
}

func TestStaticCredentials(t *testing.T) {
	creds := StaticCredentials{Token: "gw-token"}

	token, ok := creds.Get(TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "gw-token", token)

	_, ok = creds.Get("other-key")
	assert.False(t, ok)

	_, ok = StaticCredentials{}.Get(TokenKey)
	assert.False(t, ok, "empty token must read as absent")
}
