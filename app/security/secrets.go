package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

const (
	twoFACodeMin   = 100000
	twoFACodeSpan  = 900000
	resetTokenSize = 36 // 288 bits, 48 base64url characters
)

// SecretGenerator produces the single-use secrets mailed to users.
type SecretGenerator interface {
	TwoFACode() (string, error)
	ResetToken() (string, error)
}

type RandomSecrets struct {
	source io.Reader
}

// NewRandomSecrets reads from crypto/rand unless another source is given.
func NewRandomSecrets(source io.Reader) *RandomSecrets {
	if source == nil {
		source = rand.Reader
	}
	return &RandomSecrets{source: source}
}

// TwoFACode returns a six digit code drawn uniformly from 100000..999999.
func (g *RandomSecrets) TwoFACode() (string, error) {
	n, err := rand.Int(g.source, big.NewInt(twoFACodeSpan))
	if err != nil {
		return "", fmt.Errorf("generate 2fa code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+twoFACodeMin), nil
}

// ResetToken returns an opaque URL-safe token.
func (g *RandomSecrets) ResetToken() (string, error) {
	raw := make([]byte, resetTokenSize)
	if _, err := io.ReadFull(g.source, raw); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
