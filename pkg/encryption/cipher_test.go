package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

func TestRoundTripVariousSizes(t *testing.T) {
	for _, c := range []*Cipher{New(nil), New(HKDFKey([]byte("salt")))} {
		for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 1024, 4099} {
			payload := make([]byte, size)
			_, err := rand.Read(payload)
			require.NoError(t, err)

			sealed, err := c.Encrypt(payload, "priyUSER007")
			require.NoError(t, err)
			require.Equal(t, 0, (len(sealed)-ivLength)%16)
			require.Greater(t, len(sealed), size)

			opened, err := c.Decrypt(sealed, "priyUSER007")
			require.NoError(t, err)
			require.True(t, bytes.Equal(payload, opened), "size %d", size)
		}
	}
}

func TestWrongKeyDoesNotRecoverPlaintext(t *testing.T) {
	payload := []byte("%PDF-1.4 net payable 53000.00")
	for i := 0; i < 20; i++ {
		sealed, err := Encrypt(payload, "priyUSER007")
		require.NoError(t, err)

		opened, err := Decrypt(sealed, "priyUSER008")
		if err == nil {
			require.False(t, bytes.Equal(payload, opened))
			continue
		}
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEncryption))
	}
}

func TestFreshIVPerCall(t *testing.T) {
	a, err := Encrypt([]byte("same"), "k")
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), "k")
	require.NoError(t, err)
	require.False(t, bytes.Equal(a[:ivLength], b[:ivLength]))
	require.False(t, bytes.Equal(a, b))
}

func TestDerivationsAreNotInterchangeable(t *testing.T) {
	sealed, err := New(HKDFKey(nil)).Encrypt([]byte("statement body that spans blocks"), "key")
	require.NoError(t, err)
	opened, err := New(SHA256Key).Decrypt(sealed, "key")
	if err == nil {
		require.NotEqual(t, "statement body that spans blocks", string(opened))
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	_, err := Decrypt([]byte("short"), "k")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEncryption))

	_, err = Decrypt(make([]byte, ivLength+17), "k")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEncryption))
}

func TestEmptyKeyMaterialDerivesEmptyDigest(t *testing.T) {
	plaintext := []byte("statement for an employee with no name or code")
	sealed, err := Encrypt(plaintext, "")
	require.NoError(t, err)

	got, err := Decrypt(sealed, "")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	sum := sha256.Sum256(nil)
	block, err := aes.NewCipher(sum[:])
	require.NoError(t, err)
	body := make([]byte, len(sealed)-ivLength)
	cipher.NewCBCDecrypter(block, sealed[:ivLength]).CryptBlocks(body, sealed[ivLength:])
	unpadded, err := unpad(body)
	require.NoError(t, err)
	require.Equal(t, plaintext, unpadded)

	hkdf := New(HKDFKey([]byte("salt")))
	sealed, err = hkdf.Encrypt(plaintext, "")
	require.NoError(t, err)
	got, err = hkdf.Decrypt(sealed, "")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestRandomFailureIsEncryptionError(t *testing.T) {
	c := New(nil)
	c.rand = failingReader{}
	_, err := c.Encrypt([]byte("x"), "k")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEncryption))
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(config.EncryptionConfig{KeyDerivation: config.KeyDerivationHKDF, HKDFSalt: "s"})
	require.NoError(t, err)
	sealed, err := c.Encrypt([]byte("x"), "k")
	require.NoError(t, err)
	out, err := c.Decrypt(sealed, "k")
	require.NoError(t, err)
	require.Equal(t, "x", string(out))

	_, err = NewFromConfig(config.EncryptionConfig{KeyDerivation: "md5"})
	require.Error(t, err)
}

func TestStatementKeys(t *testing.T) {
	require.Equal(t, "priyUSER007", StatementKey("Priya Sharma", "USER007"))
	require.Equal(t, "aliUSER001", StatementKey(" Ali ", "USER001"))

	key := SecureKey("Priya Sharma", "USER007")
	require.Len(t, key, 32)
	require.Equal(t, key, SecureKey("Priya Sharma", "USER007"))
	require.NotEqual(t, key, SecureKey("Priya Sharma", "USER008"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}
