package share

import (
	"crypto/rand"
	"encoding/base64"
)

const tokenByteLength = 32

// TokenSource produces unguessable share tokens.
type TokenSource interface {
	NewToken() (string, error)
}

type randomTokenSource struct{}

// NewRandomTokenSource returns a TokenSource backed by crypto/rand,
// producing 256 bits of entropy per token.
func NewRandomTokenSource() TokenSource {
	return randomTokenSource{}
}

func (randomTokenSource) NewToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
