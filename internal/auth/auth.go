// Package auth resolves caller identity from bearer tokens. Token issuance
// happens in the account service; this side only verifies HS256 signatures
// and extracts the user id claim.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tandem/lingua-app/internal/apperr"
)

// Verifier validates bearer tokens and returns the authenticated user id.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared HS256 secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// UserID verifies the token and returns the "sub" claim.
func (v *Verifier) UserID(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperr.Unauthenticated("missing token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", apperr.Unauthenticated("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", apperr.Unauthenticated("token missing subject")
	}
	return sub, nil
}
