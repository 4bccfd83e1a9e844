package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoomClaims is the grant embedded in a room access token. The frontend
// presents it when joining a media room under a persona identity.
type RoomClaims struct {
	Room    string `json:"room"`
	Persona string `json:"persona"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies signed room access tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService creates a token service. A zero expiry falls back to
// six hours.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	if expiry <= 0 {
		expiry = 6 * time.Hour
	}
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token granting the persona access to the room.
func (t *TokenService) Issue(room, persona string) (string, error) {
	now := time.Now()
	claims := RoomClaims{
		Room:    room,
		Persona: persona,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   persona,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			Issuer:    "harvestd",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims.
func (t *TokenService) Verify(tokenString string) (*RoomClaims, error) {
	claims := &RoomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid room token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid room token")
	}
	return claims, nil
}
