// Package crypto decrypts creator channel credentials with versioned
// AES-256-GCM keys derived from configured master secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	"github.com/smallbiznis/creatorpay/internal/config"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	infoLabel = "creatorpay/channel-token/v"
)

// Keyring holds one derived key per version. The highest version encrypts.
type Keyring struct {
	keys    map[int][]byte
	current int
}

// NewKeyring derives a key for every configured version. An empty input
// yields an empty keyring whose Decrypt always fails with ErrKeyringEmpty.
func NewKeyring(secrets map[int]string) (*Keyring, error) {
	kr := &Keyring{keys: make(map[int][]byte, len(secrets))}
	for version, secret := range secrets {
		if version <= 0 || secret == "" {
			return nil, fmt.Errorf("invalid channel token key version %d", version)
		}
		key, err := deriveKey(secret, version)
		if err != nil {
			return nil, err
		}
		kr.keys[version] = key
		if version > kr.current {
			kr.current = version
		}
	}
	return kr, nil
}

// FromConfig builds the keyring from CHANNEL_TOKEN_KEYS.
func FromConfig(cfg config.Config) (*Keyring, error) {
	return NewKeyring(cfg.Automation.ChannelTokenKeys)
}

func deriveKey(secret string, version int) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(infoLabel+strconv.Itoa(version)))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

func (k *Keyring) Decrypt(token domain.EncryptedToken) (string, error) {
	if k.Len() == 0 {
		return "", domain.ErrKeyringEmpty
	}
	key, ok := k.keys[token.KeyVersion]
	if !ok {
		return "", domain.ErrUnknownKeyVersion
	}

	ciphertext, err := hex.DecodeString(token.Ciphertext)
	if err != nil {
		return "", domain.ErrTokenCorrupt
	}
	nonce, err := hex.DecodeString(token.IV)
	if err != nil || len(nonce) != nonceSize {
		return "", domain.ErrTokenCorrupt
	}
	tag, err := hex.DecodeString(token.Tag)
	if err != nil || len(tag) != tagSize {
		return "", domain.ErrTokenCorrupt
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", domain.ErrTokenCorrupt
	}
	return string(plain), nil
}

// Encrypt seals plain with the current key version.
func (k *Keyring) Encrypt(plain string) (domain.EncryptedToken, error) {
	if k.Len() == 0 {
		return domain.EncryptedToken{}, domain.ErrKeyringEmpty
	}
	gcm, err := newGCM(k.keys[k.current])
	if err != nil {
		return domain.EncryptedToken{}, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return domain.EncryptedToken{}, err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plain), nil)
	split := len(sealed) - tagSize
	return domain.EncryptedToken{
		Ciphertext: hex.EncodeToString(sealed[:split]),
		IV:         hex.EncodeToString(nonce),
		Tag:        hex.EncodeToString(sealed[split:]),
		KeyVersion: k.current,
	}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
