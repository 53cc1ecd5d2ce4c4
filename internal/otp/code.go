package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	codeMin = 100000
	codeMax = 999999
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// GenerateCode returns a uniformly random six digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// ValidCode reports whether s has the shape of a generated code.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}
