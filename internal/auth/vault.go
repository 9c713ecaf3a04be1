package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

const saltSize = 16

// Vault keeps secret calendar feed URLs encrypted at rest. Shared-calendar
// ICS links usually embed an access token, so they never land in the
// database or in plain config files.
type Vault struct {
	Path string
}

// Feeds maps a calendar source id to its secret feed URL.
type Feeds map[string]string

func (v Vault) Save(feeds Feeds, passphrase string) error {
	if v.Path == "" {
		return fmt.Errorf("vault path is required")
	}
	plaintext, err := json.Marshal(feeds)
	if err != nil {
		return fmt.Errorf("marshal feeds: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	blob := append(append(salt, nonce...), ciphertext...)
	if err := os.WriteFile(v.Path, blob, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}

func (v Vault) Load(passphrase string) (Feeds, error) {
	if v.Path == "" {
		return nil, fmt.Errorf("vault path is required")
	}
	blob, err := os.ReadFile(v.Path)
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	if len(blob) < saltSize {
		return nil, fmt.Errorf("invalid vault file")
	}
	salt := blob[:saltSize]
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(blob) < saltSize+gcm.NonceSize() {
		return nil, fmt.Errorf("invalid vault file")
	}
	nonce := blob[saltSize : saltSize+gcm.NonceSize()]
	ciphertext := blob[saltSize+gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}
	var feeds Feeds
	if err := json.Unmarshal(plaintext, &feeds); err != nil {
		return nil, fmt.Errorf("unmarshal feeds: %w", err)
	}
	return feeds, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 3, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}
