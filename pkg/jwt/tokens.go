package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "learning-labs-portal"

// Claims defines the payload of a document service token.
type Claims struct {
	DocID string `json:"doc_id"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues a signed JWT scoped to docID with provided secret and ttl.
func GenerateToken(docID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		DocID: docID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   docID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
