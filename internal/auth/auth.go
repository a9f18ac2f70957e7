// Package auth implements the Auth collaborator spec.md §6 describes:
// "given an Authorization: Bearer <jwt> header, yields {userid, token} or
// nothing; the core treats absence as an unauthenticated request."
// Grounded on original_source/helpers.py's decode_access_token, rewritten
// against github.com/golang-jwt/jwt/v4 instead of PyJWT.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// TokenData is the verified identity extracted from a bearer token,
// mirroring the Python original's TokenData{userid, token}.
type TokenData struct {
	UserID string
	Token  string
}

// Verifier decodes and validates bearer tokens against a fixed secret and
// algorithm, loaded once from configuration at process startup.
type Verifier struct {
	secret    []byte
	algorithm string
}

// NewVerifier builds a Verifier. algorithm must name a signing method
// jwt.GetSigningMethod recognizes (e.g. "HS256").
func NewVerifier(secret, algorithm string) *Verifier {
	return &Verifier{secret: []byte(secret), algorithm: algorithm}
}

var errUnauthenticated = errors.New("auth: missing or invalid token")

// Decode extracts and verifies the bearer token from an Authorization
// header value. It returns (nil, nil) — not an error — whenever the
// header is absent or the token fails verification; spec.md §6 treats
// "no token" and "bad token" identically as an unauthenticated request,
// and the HTTP layer maps nil to AuthMissing.
func (v *Verifier) Decode(authorizationHeader string) (*TokenData, error) {
	if authorizationHeader == "" {
		return nil, nil
	}
	parts := strings.SplitN(authorizationHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, nil
	}
	rawToken := parts[1]

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, errUnauthenticated
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, nil
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, nil
	}
	return &TokenData{UserID: sub, Token: rawToken}, nil
}
