package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for a missing, invalid or expired join token,
// or one minted for another room.
var ErrUnauthorized = errors.New("unauthorized")

const issuer = "ada"

// Claims grant one identity access to one room.
type Claims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// MintToken signs a join token for identity in room, valid for ttl.
func MintToken(secret, room, identity string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("token secret is empty")
	}
	if room == "" || identity == "" {
		return "", errors.New("room and identity are required")
	}
	now := time.Now()
	claims := Claims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks a join token for room and returns the participant
// identity it carries.
func VerifyToken(secret, room, tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Room != room {
		return "", fmt.Errorf("%w: token is for room %q", ErrUnauthorized, claims.Room)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no identity", ErrUnauthorized)
	}
	return claims.Subject, nil
}
