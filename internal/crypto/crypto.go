// Package crypto provides the symmetric cryptography for Aegis: password
// hashing, authenticated encryption, HMAC signing and key lifecycle.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// Well-known key IDs created at provider construction.
const (
	MasterKeyID  = "master"
	SigningKeyID = "signing"
)

const (
	saltSize    = 32
	hashSize    = 64
	aesKeySize  = 32
	hmacKeySize = 32

	// minIterations is the floor for the password KDF; Config values below
	// it are raised to it.
	minIterations = 100000
)

// Config holds crypto provider tunables.
type Config struct {
	// KDFIterations is the PBKDF2 iteration count for password hashing.
	KDFIterations int
}

// Ciphertext is the result of an Encrypt call.
type Ciphertext struct {
	Data []byte `json:"data"`
	IV   []byte `json:"iv"`
}

// Provider implements password hashing, symmetric encryption and HMAC
// signing over an in-memory key set.
type Provider struct {
	mu         sync.RWMutex
	keys       map[string]*models.EncryptionKey
	iterations int
}

// NewProvider creates a provider with the master encryption key and the
// signing key generated.
func NewProvider(cfg Config) (*Provider, error) {
	iterations := cfg.KDFIterations
	if iterations < minIterations {
		iterations = minIterations
	}

	p := &Provider{
		keys:       make(map[string]*models.EncryptionKey),
		iterations: iterations,
	}

	if _, err := p.generateKeyWithID(MasterKeyID, "AES-256-GCM", models.KeyUsageEncryption); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if _, err := p.generateKeyWithID(SigningKeyID, "HMAC-SHA256", models.KeyUsageSigning); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	return p, nil
}

// HashPassword derives a salted hash for the password, encoded as
// "salt:hash" in hex.
func (p *Provider) HashPassword(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.NewCryptoError("hash_password", err)
	}

	hash := pbkdf2.Key([]byte(password), salt, p.iterations, hashSize, sha512.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// VerifyPassword recomputes the derivation with the stored salt and compares
// in constant time.
func (p *Provider) VerifyPassword(password, encoded string) bool {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	stored, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computed := pbkdf2.Key([]byte(password), salt, p.iterations, len(stored), sha512.New)
	return subtle.ConstantTimeCompare(computed, stored) == 1
}

// Encrypt encrypts data under the named key using AES-256-GCM with a fresh
// random nonce per call.
func (p *Provider) Encrypt(data []byte, keyID string) (*Ciphertext, error) {
	key, err := p.keyBytes(keyID, models.KeyUsageEncryption)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCryptoError("encrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewCryptoError("encrypt", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.NewCryptoError("encrypt", err)
	}

	return &Ciphertext{
		Data: gcm.Seal(nil, iv, data, nil),
		IV:   iv,
	}, nil
}

// Decrypt reverses Encrypt. Tampered or corrupted ciphertext fails GCM
// authentication and surfaces ErrDecryptionFailed.
func (p *Provider) Decrypt(ct *Ciphertext, keyID string) ([]byte, error) {
	key, err := p.keyBytes(keyID, models.KeyUsageEncryption)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCryptoError("decrypt", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewCryptoError("decrypt", err)
	}
	if len(ct.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad IV length %d", errors.ErrDecryptionFailed, len(ct.IV))
	}

	plain, err := gcm.Open(nil, ct.IV, ct.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDecryptionFailed, err)
	}
	return plain, nil
}

// Sign computes an HMAC-SHA256 signature over data with the named key.
func (p *Provider) Sign(data []byte, keyID string) ([]byte, error) {
	key, err := p.keyBytes(keyID, models.KeyUsageSigning)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifySignature recomputes the HMAC and compares in constant time.
func (p *Provider) VerifySignature(data, signature []byte, keyID string) (bool, error) {
	expected, err := p.Sign(data, keyID)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, signature), nil
}

// GenerateKey allocates a new active key for the given algorithm and usage.
func (p *Provider) GenerateKey(algorithm string, usage models.KeyUsage) (*models.EncryptionKey, error) {
	return p.generateKeyWithID(newKeyID(), algorithm, usage)
}

// Key returns the key metadata for the given ID. The raw key bytes are
// never exposed.
func (p *Provider) Key(keyID string) (*models.EncryptionKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, errors.ErrKeyNotFound)
	}
	cp := *key
	cp.Key = nil
	return &cp, nil
}

// Keys returns metadata for all keys, without the raw key bytes.
func (p *Provider) Keys() []*models.EncryptionKey {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.EncryptionKey, 0, len(p.keys))
	for _, k := range p.keys {
		cp := *k
		cp.Key = nil
		out = append(out, &cp)
	}
	return out
}

// RotateStale replaces the key bytes of every active key older than maxAge.
// The key ID is retained so dependents are unaffected. It returns the IDs of
// the rotated keys.
func (p *Provider) RotateStale(maxAge time.Duration, now time.Time) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rotated []string
	for id, key := range p.keys {
		if !key.Active {
			continue
		}
		age := key.CreatedAt
		if !key.RotatedAt.IsZero() {
			age = key.RotatedAt
		}
		if now.Sub(age) < maxAge {
			continue
		}
		if err := p.rotateLocked(key, now); err != nil {
			return rotated, err
		}
		rotated = append(rotated, id)
	}
	return rotated, nil
}

// RotateAll forces rotation of every active key.
func (p *Provider) RotateAll(now time.Time) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rotated []string
	for id, key := range p.keys {
		if !key.Active {
			continue
		}
		if err := p.rotateLocked(key, now); err != nil {
			return rotated, err
		}
		rotated = append(rotated, id)
	}
	return rotated, nil
}

func (p *Provider) rotateLocked(key *models.EncryptionKey, now time.Time) error {
	fresh := make([]byte, len(key.Key))
	if _, err := rand.Read(fresh); err != nil {
		return errors.NewCryptoError("rotate", err)
	}
	key.Key = fresh
	key.RotatedAt = now
	return nil
}

func (p *Provider) generateKeyWithID(id, algorithm string, usage models.KeyUsage) (*models.EncryptionKey, error) {
	size := aesKeySize
	if usage == models.KeyUsageSigning {
		size = hmacKeySize
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.NewCryptoError("generate_key", err)
	}

	key := &models.EncryptionKey{
		ID:        id,
		Algorithm: algorithm,
		KeySize:   size * 8,
		Key:       raw,
		Usage:     usage,
		Active:    true,
		CreatedAt: time.Now(),
	}

	p.mu.Lock()
	p.keys[id] = key
	p.mu.Unlock()

	return key, nil
}

func (p *Provider) keyBytes(keyID string, usage models.KeyUsage) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, errors.ErrKeyNotFound)
	}
	if key.Usage != usage {
		return nil, fmt.Errorf("key %q has usage %s, want %s: %w", keyID, key.Usage, usage, errors.ErrInvalidInput)
	}
	return key.Key, nil
}

func newKeyID() string {
	return "key-" + uuid.New().String()
}
