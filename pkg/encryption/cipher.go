// Package encryption seals statement artifacts with AES-256-CBC. Output is
// IV || ciphertext; the key is derived from caller-supplied key material.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

const (
	keyLength = 32
	ivLength  = aes.BlockSize
)

var hkdfInfo = []byte("payroll-statement-v1")

// KeyDeriver turns arbitrary key material into a keyLength-byte AES key.
type KeyDeriver func(material []byte) ([]byte, error)

// SHA256Key hashes the material and uses the digest as the key.
func SHA256Key(material []byte) ([]byte, error) {
	sum := sha256.Sum256(material)
	return sum[:keyLength], nil
}

// HKDFKey returns a deriver that expands material with HKDF-SHA256 under salt.
func HKDFKey(salt []byte) KeyDeriver {
	return func(material []byte) ([]byte, error) {
		key := make([]byte, keyLength)
		if _, err := io.ReadFull(hkdf.New(sha256.New, material, salt, hkdfInfo), key); err != nil {
			return nil, err
		}
		return key, nil
	}
}

// Cipher encrypts and decrypts with a fixed key derivation.
type Cipher struct {
	derive KeyDeriver
	rand   io.Reader
}

// New returns a Cipher using derive; nil selects SHA256Key.
func New(derive KeyDeriver) *Cipher {
	if derive == nil {
		derive = SHA256Key
	}
	return &Cipher{derive: derive, rand: rand.Reader}
}

// NewFromConfig picks the key derivation named in cfg.
func NewFromConfig(cfg config.EncryptionConfig) (*Cipher, error) {
	switch cfg.KeyDerivation {
	case "", config.KeyDerivationSHA256:
		return New(SHA256Key), nil
	case config.KeyDerivationHKDF:
		return New(HKDFKey([]byte(cfg.HKDFSalt))), nil
	default:
		return nil, fmt.Errorf("unsupported key derivation %q", cfg.KeyDerivation)
	}
}

// Encrypt seals plaintext under keyMaterial with a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte, keyMaterial string) ([]byte, error) {
	block, err := c.block(keyMaterial)
	if err != nil {
		return nil, err
	}
	out := make([]byte, ivLength, ivLength+len(plaintext)+aes.BlockSize)
	if _, err := io.ReadFull(c.rand, out[:ivLength]); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeEncryption, err, "generate iv")
	}
	padded := pad(plaintext)
	sealed := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, out[:ivLength]).CryptBlocks(sealed, padded)
	return append(out, sealed...), nil
}

// Decrypt reverses Encrypt. A wrong key surfaces as a padding error in most
// cases; there is no authentication tag, so callers must not rely on
// Decrypt failing for every wrong key.
func (c *Cipher) Decrypt(data []byte, keyMaterial string) ([]byte, error) {
	if len(data) < ivLength+aes.BlockSize || (len(data)-ivLength)%aes.BlockSize != 0 {
		return nil, pkgerrors.New(pkgerrors.CodeEncryption, "ciphertext has invalid length")
	}
	block, err := c.block(keyMaterial)
	if err != nil {
		return nil, err
	}
	iv, body := data[:ivLength], data[ivLength:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	out, err := unpad(plain)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeEncryption, err, "decrypt")
	}
	return out, nil
}

// block derives the AES key. Empty material is valid and derives the
// digest of the empty string.
func (c *Cipher) block(keyMaterial string) (cipher.Block, error) {
	key, err := c.derive([]byte(keyMaterial))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeEncryption, err, "derive key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeEncryption, err, "cipher init")
	}
	return block, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty block")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}

var std = New(SHA256Key)

// Encrypt seals plaintext with the default SHA-256 key derivation.
func Encrypt(plaintext []byte, keyMaterial string) ([]byte, error) {
	return std.Encrypt(plaintext, keyMaterial)
}

// Decrypt opens data sealed by Encrypt.
func Decrypt(data []byte, keyMaterial string) ([]byte, error) {
	return std.Decrypt(data, keyMaterial)
}
