package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/veil-sh/veil/internal/entity"
)

// EncryptedStore decorates any backend with AES-256-GCM encryption of the
// original value. The boundary is internal: callers see plaintext mappings
// on both sides, only the persisted form is ciphertext.
type EncryptedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewEncryptedStore wraps inner with encryption. key is a hex-encoded
// 32-byte AES key.
func NewEncryptedStore(inner Store, key string) (*EncryptedStore, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(raw))
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}
	return &EncryptedStore{inner: inner, aead: aead}, nil
}

// seal encrypts plaintext with a random nonce, binding the ciphertext to its
// (session, placeholder) key so entries cannot be swapped between sessions.
func (s *EncryptedStore) seal(m entity.Mapping) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	aad := []byte(m.SessionID + "\x00" + m.Placeholder)
	out := s.aead.Seal(nonce, nonce, []byte(m.OriginalValue), aad)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *EncryptedStore) open(m entity.Mapping) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(m.OriginalValue)
	if err != nil {
		return "", fmt.Errorf("stored value is not valid base64: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("stored value too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	aad := []byte(m.SessionID + "\x00" + m.Placeholder)
	plain, err := s.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt mapping: %w", err)
	}
	return string(plain), nil
}

func (s *EncryptedStore) Store(ctx context.Context, m entity.Mapping) error {
	return s.StoreBatch(ctx, []entity.Mapping{m})
}

func (s *EncryptedStore) StoreBatch(ctx context.Context, mappings []entity.Mapping) error {
	sealed := make([]entity.Mapping, len(mappings))
	for i, m := range mappings {
		value, err := s.seal(m)
		if err != nil {
			return err
		}
		m.OriginalValue = value
		sealed[i] = m
	}
	return s.inner.StoreBatch(ctx, sealed)
}

func (s *EncryptedStore) Get(ctx context.Context, sessionID, placeholder string) (*entity.Mapping, error) {
	m, err := s.inner.Get(ctx, sessionID, placeholder)
	if err != nil || m == nil {
		return m, err
	}
	value, err := s.open(*m)
	if err != nil {
		return nil, err
	}
	m.OriginalValue = value
	return m, nil
}

func (s *EncryptedStore) GetSession(ctx context.Context, sessionID string) (*entity.Session, error) {
	session, err := s.inner.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return session, err
	}
	for i, m := range session.Mappings {
		value, err := s.open(m)
		if err != nil {
			return nil, err
		}
		session.Mappings[i].OriginalValue = value
	}
	return session, nil
}

func (s *EncryptedStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.inner.DeleteSession(ctx, sessionID)
}

func (s *EncryptedStore) ListSessions(ctx context.Context) ([]string, error) {
	return s.inner.ListSessions(ctx)
}

func (s *EncryptedStore) CleanupExpired(ctx context.Context) (int, error) {
	return s.inner.CleanupExpired(ctx)
}

func (s *EncryptedStore) Close() error {
	return s.inner.Close()
}
