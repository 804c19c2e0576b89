package encryption

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// StatementKey builds the recipient's password: the first four letters of
// their name, lowercased, followed by their identifier. "Priya Sharma",
// "USER007" gives "priyUSER007".
func StatementKey(name, code string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > 4 {
		runes = runes[:4]
	}
	return strings.ToLower(string(runes)) + code
}

// SecureKey hashes StatementKey into a 32 character hex string.
func SecureKey(name, code string) string {
	sum := sha256.Sum256([]byte(StatementKey(name, code)))
	return hex.EncodeToString(sum[:])[:keyLength]
}
