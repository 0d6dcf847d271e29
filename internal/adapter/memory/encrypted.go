package memory

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

const (
	contentPrefix = "enc:v1:"
	defaultSalt   = "avatarbot.memory.v1"
)

// EncryptedStore wraps a store and encrypts message content with AES-256-GCM
// before it is written. Role and user id stay in the clear. Content written
// without the prefix is returned as-is.
type EncryptedStore struct {
	inner domain.MemoryStore
	gcm   cipher.AEAD
}

var _ domain.MemoryStore = (*EncryptedStore)(nil)

// NewEncryptedStore derives the key once from passphrase and salt. An empty
// salt uses a fixed default; changing either makes earlier history unreadable.
func NewEncryptedStore(inner domain.MemoryStore, passphrase, salt string) (*EncryptedStore, error) {
	if passphrase == "" {
		return nil, domain.NewDomainError("NewEncryptedStore", domain.ErrEncryption, "empty passphrase")
	}
	if salt == "" {
		salt = defaultSalt
	}
	gcm, err := config.NewGCM(config.DeriveKey(passphrase, []byte(salt)))
	if err != nil {
		return nil, domain.NewDomainError("NewEncryptedStore", domain.ErrEncryption, err.Error())
	}
	return &EncryptedStore{inner: inner, gcm: gcm}, nil
}

// GetHistory decrypts every message of the session.
func (s *EncryptedStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := s.inner.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		plain, err := s.open(msgs[i].Content)
		if err != nil {
			return nil, domain.NewDomainError("EncryptedStore.GetHistory", domain.ErrDecryption,
				fmt.Sprintf("session %q message %d: %v", sessionID, i, err))
		}
		msgs[i].Content = plain
	}
	return msgs, nil
}

// AddMessage encrypts msg.Content and stores the result.
func (s *EncryptedStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	sealed, err := s.seal(msg.Content)
	if err != nil {
		return domain.NewDomainError("EncryptedStore.AddMessage", domain.ErrEncryption, err.Error())
	}
	msg.Content = sealed
	return s.inner.AddMessage(ctx, sessionID, msg)
}

func (s *EncryptedStore) seal(plain string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return contentPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (s *EncryptedStore) open(content string) (string, error) {
	enc, ok := strings.CutPrefix(content, contentPrefix)
	if !ok {
		return content, nil
	}
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(data) < s.gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := data[:s.gcm.NonceSize()], data[s.gcm.NonceSize():]
	plain, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
