package util

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
)

const (
	// TokenAlphabet is the 62-symbol alphabet for join tokens.
	TokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	TokenLength   = 32

	// CodeAlphabet has 33 symbols. I, O and 0 are left out so codes read back unambiguously.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"
	CodeLength   = 6
)

// RandomString draws n symbols uniformly from alphabet using crypto/rand.
func RandomString(alphabet string, n int) (string, error) {
	chars := []byte(alphabet)
	max := big.NewInt(int64(len(chars)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = chars[idx.Int64()]
	}
	return string(out), nil
}

// GenerateJoinToken returns a 32-character alphanumeric capability token.
func GenerateJoinToken() (string, error) {
	return RandomString(TokenAlphabet, TokenLength)
}

// GenerateSessionCode returns a 6-character human session code.
func GenerateSessionCode() (string, error) {
	return RandomString(CodeAlphabet, CodeLength)
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func MaskToken(token string) string {
	if len(token) <= 6 {
		return "******"
	}
	return token[:6] + "..."
}
