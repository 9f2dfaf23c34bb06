// Package auth issues and validates the session tokens that authenticate a
// client id on the WebSocket upgrade (see api.ClientIDFromRequest). There is no account or
// password system here: a token attests to a client id and nothing else,
// consistent with the server's stance that it authenticates connections, not
// identities.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret []byte

func init() {
	jwtSecret = make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		jwtSecret = []byte("development-secret-key-change-in-production")
	}
}

// Claims binds a token to a stable client id, letting a reconnect resume the
// same session (internal/session.Manager) instead of starting a new one.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// IssueToken creates a signed token for clientID, valid for ttl.
func IssueToken(clientID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "tilerealm",
			Subject:   clientID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken returns the client id encoded in a valid, unexpired token.
func ValidateToken(tokenString string) (clientID string, ok bool) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	return claims.ClientID, true
}

// GenerateSecureSecret returns a fresh base64-encoded 256-bit secret, for
// operators rotating GAME_JWT_SECRET.
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// SetSecret installs a base64-encoded secret, replacing the random one
// generated at process start. Called once from main() after config load.
func SetSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return err
	}
	if len(decoded) < 32 {
		return errors.New("secret key must be at least 32 bytes")
	}
	jwtSecret = decoded
	return nil
}
