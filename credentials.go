package membership

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const defaultCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// CredentialPolicy controls generated login passwords.
type CredentialPolicy struct {
	Length     int
	Charset    string
	BcryptCost int
}

func (p CredentialPolicy) withDefaults() (CredentialPolicy, error) {
	if p.Length == 0 {
		p.Length = 12
	}
	if p.Charset == "" {
		p.Charset = defaultCharset
	}
	if p.BcryptCost == 0 {
		p.BcryptCost = bcrypt.DefaultCost
	}
	if p.Length < 8 || p.Length > 72 {
		return p, fmt.Errorf("%w: credential length must be between 8 and 72", ErrInvalidInput)
	}
	if utf8.RuneCountInString(p.Charset) < 2 {
		return p, fmt.Errorf("%w: credential charset too small", ErrInvalidInput)
	}
	// bcrypt ignores everything past 72 bytes, so bound the worst case.
	widest := 0
	for _, r := range p.Charset {
		widest = max(widest, utf8.RuneLen(r))
	}
	if p.Length*widest > 72 {
		return p, fmt.Errorf("%w: credentials of %d characters from this charset may exceed 72 bytes", ErrInvalidInput, p.Length)
	}
	if p.BcryptCost < bcrypt.MinCost || p.BcryptCost > bcrypt.MaxCost {
		return p, fmt.Errorf("%w: bcrypt cost out of range", ErrInvalidInput)
	}
	return p, nil
}

// Generate returns a random password drawn uniformly from the charset.
func (p CredentialPolicy) Generate() (string, error) {
	charset := []rune(p.Charset)
	n := big.NewInt(int64(len(charset)))
	out := make([]rune, p.Length)
	for i := range out {
		k, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("failed to generate credential: %w", err)
		}
		out[i] = charset[k.Int64()]
	}
	return string(out), nil
}

// Hash returns the salted bcrypt hash of a plaintext credential.
func (p CredentialPolicy) Hash(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), p.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential: %w", err)
	}
	return string(h), nil
}

// VerifyCredential reports whether plain matches the stored hash.
func VerifyCredential(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
