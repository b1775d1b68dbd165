package utils

import (
	"crypto/rand"
	"fmt"
	"io"
)

const digits = "0123456789"

// RandomString draws length characters from alphabet using r. Bytes that would bias
// the distribution are rejected and redrawn.
func RandomString(r io.Reader, alphabet string, length int) (string, error) {
	n := len(alphabet)
	if n == 0 || n > 256 {
		return "", fmt.Errorf("alphabet size %d out of range", n)
	}
	limit := 256 - (256 % n)
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateNumericOTP generates a secure random numeric OTP of the specified length.
func GenerateNumericOTP(length int) (string, error) {
	return RandomString(rand.Reader, digits, length)
}
