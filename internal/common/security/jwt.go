package security

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints ops-dashboard tokens. The wrapped jwtauth instance is
// handed to the router so the Verifier middleware and the issuer always
// share one key.
type TokenIssuer struct {
	auth *jwtauth.JWTAuth
	exp  time.Duration
}

func NewTokenIssuer(secret []byte, exp time.Duration) *TokenIssuer {
	return &TokenIssuer{auth: jwtauth.New("HS256", secret, nil), exp: exp}
}

func (t *TokenIssuer) Auth() *jwtauth.JWTAuth {
	return t.auth
}

func (t *TokenIssuer) GenerateToken(userID, role string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(t.exp).Unix(),
		"iat":     time.Now().Unix(),
	}
	_, tokenString, err := t.auth.Encode(claims)
	return tokenString, err
}

// Helper functions to extract claims, can be used in middleware or services
func GetUserIDFromClaims(claims jwt.MapClaims) (string, error) {
	id, ok := claims["user_id"].(string)
	if !ok {
		return "", errors.New("user_id claim is missing or not a string")
	}
	return id, nil
}

func GetUserRoleFromClaims(claims jwt.MapClaims) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
