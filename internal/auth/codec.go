package auth

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spec-kit/session-gate/internal/domain"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// DefaultTokenTTL is how long a minted session stays valid.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// maxClockSkew bounds how far past now+ttl a decoded expiry may sit.
	maxClockSkew = time.Minute

	ivHexLen = aes.BlockSize * 2
	sigLen   = 16
)

// ErrInvalidKeyLength is returned when the configured key is not exactly KeySize bytes.
var ErrInvalidKeyLength = fmt.Errorf("session key must be exactly %d bytes", KeySize)

// Payload is the plaintext carried inside a session token.
type Payload struct {
	ExpiresAt int64       `json:"expiresAt"`
	SubjectID int64       `json:"userId"`
	Role      domain.Role `json:"role"`
}

// sealedPayload is the serialized form. The signature leads so the first
// plaintext block, which the IV can rewrite freely, holds no claim bytes.
type sealedPayload struct {
	Sig string `json:"sig"`
	Payload
}

// Expiry returns the absolute expiry as a time value.
func (p Payload) Expiry() time.Time {
	return time.UnixMilli(p.ExpiresAt)
}

// Codec encrypts session payloads into opaque tokens and back.
// The token is hex(iv) followed by the base64 AES-256-CBC ciphertext of the JSON payload.
type Codec struct {
	block   cipher.Block
	macKey  []byte
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// WithEntropy overrides the IV source.
func WithEntropy(r io.Reader) CodecOption {
	return func(c *Codec) { c.entropy = r }
}

// NewCodec builds a codec for the given key.
func NewCodec(key []byte, ttl time.Duration, opts ...CodecOption) (*Codec, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	c := &Codec{block: block, macKey: deriveMACKey(key), ttl: ttl, now: time.Now, entropy: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the lifetime applied to minted tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// SelfTest mints and decodes a throwaway token.
func (c *Codec) SelfTest(context.Context) error {
	token, _, err := c.Mint(1, domain.RoleMember)
	if err != nil {
		return err
	}
	if payload, ok := c.Decode(token); !ok || payload.SubjectID != 1 {
		return errors.New("session codec round trip failed")
	}
	return nil
}

// Mint issues a new token for the subject. Each call draws a fresh IV.
func (c *Codec) Mint(subjectID int64, role domain.Role) (string, time.Time, error) {
	expiresAt := c.now().Add(c.ttl).Truncate(time.Millisecond)
	payload := Payload{
		ExpiresAt: expiresAt.UnixMilli(),
		SubjectID: subjectID,
		Role:      role,
	}
	plain, err := json.Marshal(sealedPayload{Sig: hex.EncodeToString(c.sign(payload)), Payload: payload})
	if err != nil {
		return "", time.Time{}, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.entropy, iv); err != nil {
		return "", time.Time{}, fmt.Errorf("read iv: %w", err)
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	sealed := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(sealed, padded)

	return hex.EncodeToString(iv) + base64.StdEncoding.EncodeToString(sealed), expiresAt, nil
}

// Decode returns the payload of a valid, unexpired token.
// Malformed, tampered and expired tokens all yield false, as does an expiry
// further out than any token this codec could have minted.
func (c *Codec) Decode(token string) (*Payload, bool) {
	payload, err := c.open(token)
	if err != nil {
		return nil, false
	}
	now := c.now()
	if now.UnixMilli() > payload.ExpiresAt {
		return nil, false
	}
	if payload.ExpiresAt > now.Add(c.ttl+maxClockSkew).UnixMilli() {
		return nil, false
	}
	return payload, true
}

func (c *Codec) open(token string) (*Payload, error) {
	if len(token) <= ivHexLen {
		return nil, errors.New("token too short")
	}
	iv, err := hex.DecodeString(token[:ivHexLen])
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(token[ivHexLen:])
	if err != nil {
		return nil, err
	}
	if len(sealed) == 0 || len(sealed)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not block aligned")
	}

	padded := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(padded, sealed)
	plain, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	var envelope sealedPayload
	if err := json.Unmarshal(plain, &envelope); err != nil {
		return nil, err
	}
	payload := envelope.Payload
	if payload.SubjectID == 0 || payload.Role == "" || payload.ExpiresAt == 0 {
		return nil, errors.New("incomplete payload")
	}
	sig, err := hex.DecodeString(envelope.Sig)
	if err != nil || !hmac.Equal(sig, c.sign(payload)) {
		return nil, errors.New("signature mismatch")
	}
	return &payload, nil
}

// sign authenticates the claims. CBC alone lets the IV and earlier blocks
// rewrite plaintext bits without the key.
func (c *Codec) sign(p Payload) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	fmt.Fprintf(mac, "%d.%d.%s", p.ExpiresAt, p.SubjectID, p.Role)
	return mac.Sum(nil)[:sigLen]
}

func deriveMACKey(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("session-token-mac"))
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
