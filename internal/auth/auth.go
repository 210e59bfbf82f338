package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carries the identity and rating the client connects with.
type Claims struct {
	Username string `json:"username"`
	Rating   int    `json:"elo"`
	jwt.RegisteredClaims
}

// Verifier resolves bearer tokens to connection identities. HS256 with
// a shared secret; any other signing method is rejected.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: "chessclass-live",
		ttl:    24 * time.Hour,
	}
}

// Issue signs a token for username. Used by provisioning tooling and
// tests; the live server itself only verifies.
func (v *Verifier) Issue(username string, rating int) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrInvalidToken
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		Rating:   rating,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Username) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
