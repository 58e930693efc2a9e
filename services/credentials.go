package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"ranked-queue-service/store"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrWrongPassword  = errors.New("wrong password")
)

const hkdfInfo = "ranked-queue-service password-at-rest"

// CredentialVerifier checks plaintext passwords against the sealed hash stored on a profile.
// A sealed blob is base64(nonce || AES-256-GCM(hex(sha256(password)))).
type CredentialVerifier struct {
	aead cipher.AEAD
}

func NewCredentialVerifier(secret string) (*CredentialVerifier, error) {
	if secret == "" {
		return nil, errors.New("password encryption key is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &CredentialVerifier{aead: aead}, nil
}

// Seal produces the blob stored in leaderboard.password_hash.
func (v *CredentialVerifier) Seal(password string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(hashPassword(password)), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Verify never returns an error: a blob that cannot be opened simply fails.
func (v *CredentialVerifier) Verify(password, blob string) bool {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) < v.aead.NonceSize() {
		return false
	}
	nonce, ciphertext := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	stored, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(stored, []byte(hashPassword(password))) == 1
}

// Authenticate loads the profile for name and checks password against it.
func (v *CredentialVerifier) Authenticate(ctx context.Context, st store.Store, name, password string) error {
	profile, err := st.GetProfile(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return ErrPlayerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if !v.Verify(password, profile.PasswordHash) {
		return ErrWrongPassword
	}
	return nil
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
