package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenClaims are the claims carried by session and replay tokens.
type TokenClaims struct {
	Subject  string
	Phone    string
	DeviceID string
	Type     string
	ID       string
}

// Signer issues and validates HS256 tokens.
type Signer struct {
	secretKey []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secretKey: []byte(secret)}
}

// GenerateToken creates a signed JWT with the given claims that expires after duration.
func (s *Signer) GenerateToken(c TokenClaims, duration time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(duration)
	claims := jwt.MapClaims{
		"sub":    c.Subject,
		"phone":  c.Phone,
		"device": c.DeviceID,
		"typ":    c.Type,
		"jti":    c.ID,
		"iat":    now.Unix(),
		"exp":    exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	return signed, exp, err
}

// ParseToken validates tokenString and returns its claims.
func (s *Signer) ParseToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure that the token's signing method is HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("token does not contain a valid 'sub' claim")
	}
	phone, _ := claims["phone"].(string)
	device, _ := claims["device"].(string)
	typ, _ := claims["typ"].(string)
	jti, _ := claims["jti"].(string)
	return &TokenClaims{Subject: sub, Phone: phone, DeviceID: device, Type: typ, ID: jti}, nil
}

// HashToken computes a SHA-256 hash of the token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
