// Package encryption derives per-(user, category) keys from a master secret
// and seals secret-tier content with AES-256-GCM.
//
// Keys are never stored. Each key is recomputed from the master secret with
// PBKDF2-HMAC-SHA256 using a salt bound to the user and category, so a key
// for one tier cannot open content sealed under another.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	"github.com/rcliao/memvault/internal/model"
)

const (
	// Marker prefixes every sealed value.
	Marker = "mvenc:v1:"

	// MinIterations is the PBKDF2 floor.
	MinIterations = 200_000

	keyLen       = 32
	keyCacheSize = 1024
)

// Options configures a Service.
type Options struct {
	MasterSecret string
	Iterations   int
	Logger       zerolog.Logger
}

// Service encrypts and decrypts content for a (user, category) pair.
type Service struct {
	secret     []byte
	iterations int
	log        zerolog.Logger
	keys       *lru.Cache[string, []byte]
}

// New builds a Service. An empty master secret puts it in degraded mode:
// Encrypt passes plaintext through and Decrypt refuses sealed values.
func New(opts Options) *Service {
	iter := opts.Iterations
	if iter < MinIterations {
		iter = MinIterations
	}
	keys, _ := lru.New[string, []byte](keyCacheSize)
	s := &Service{
		secret:     []byte(opts.MasterSecret),
		iterations: iter,
		log:        opts.Logger.With().Str("component", "encryption").Logger(),
		keys:       keys,
	}
	if !s.Enabled() {
		s.log.Warn().Msg("no master secret configured, secret tiers will be stored unencrypted")
	}
	return s
}

// Enabled reports whether a master secret is configured.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// DeriveKey returns the 32-byte key for (userID, category).
func (s *Service) DeriveKey(userID string, category model.Category) []byte {
	cacheKey := userID + "\x00" + category.String()
	if k, ok := s.keys.Get(cacheKey); ok {
		return k
	}
	salt := sha256.Sum256([]byte(userID + ":" + category.String() + ":" + string(s.secret)))
	k := pbkdf2.Key(s.secret, salt[:], s.iterations, keyLen, sha256.New)
	s.keys.Add(cacheKey, k)
	return k
}

// IsSealed reports whether value carries the encryption marker.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Marker)
}

// Encrypt seals plaintext with a fresh nonce. In degraded mode it returns
// plaintext unchanged.
func (s *Service) Encrypt(plaintext, userID string, category model.Category) (string, error) {
	if !s.Enabled() {
		s.log.Warn().Str("user_id", userID).Stringer("category", category).
			Msg("encryption disabled, storing plaintext")
		return plaintext, nil
	}
	gcm, err := s.aead(userID, category)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), additionalData(userID, category))
	return Marker + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Unsealed input is returned as-is. Any
// failure returns ok=false and is logged without key or content.
func (s *Service) Decrypt(value, userID string, category model.Category) (string, bool) {
	if !IsSealed(value) {
		return value, true
	}
	logFail := func(cause string) {
		s.log.Warn().Str("user_id", userID).Stringer("category", category).
			Str("cause", cause).Msg("decryption failed")
	}
	if !s.Enabled() {
		logFail("no master secret configured")
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Marker))
	if err != nil {
		logFail("malformed ciphertext encoding")
		return "", false
	}
	gcm, err := s.aead(userID, category)
	if err != nil {
		logFail(err.Error())
		return "", false
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		logFail("ciphertext too short")
		return "", false
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, additionalData(userID, category))
	if err != nil {
		logFail("authentication failed: wrong key or corrupted ciphertext")
		return "", false
	}
	return string(plain), true
}

func (s *Service) aead(userID string, category model.Category) (cipher.AEAD, error) {
	if !category.Valid() {
		return nil, errors.New("invalid category")
	}
	block, err := aes.NewCipher(s.DeriveKey(userID, category))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func additionalData(userID string, category model.Category) []byte {
	return []byte(userID + ":" + category.String())
}
