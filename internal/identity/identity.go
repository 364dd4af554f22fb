// Package identity verifies bearer tokens issued by the auth service.
package identity

import (
	"chatcore/backend/internal/chaterrors"
	"context"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifier resolves a token to the caller's identity. Invalid, expired or
// malformed tokens yield chaterrors.ErrAuthenticationFailed.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// Claims are the fields the auth service puts into a token.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) VerifyToken(_ context.Context, tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, chaterrors.ErrAuthenticationFailed
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chaterrors.ErrAuthenticationFailed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, chaterrors.ErrAuthenticationFailed
	}
	name := claims.Name
	if name == "" {
		name = claims.UserID
	}
	return &Identity{UserID: claims.UserID, DisplayName: name}, nil
}

// GenerateToken signs a token for userID. Used by the development token endpoint
// and by tests.
func (v *JWTVerifier) GenerateToken(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest extracts a token from an Authorization header ("Bearer x" or
// "Token x") or, failing that, from the token query parameter.
func TokenFromRequest(authHeader, queryToken string) string {
	for _, scheme := range []string{"Bearer ", "Token "} {
		if len(authHeader) > len(scheme) && strings.EqualFold(authHeader[:len(scheme)], scheme) {
			return strings.TrimSpace(authHeader[len(scheme):])
		}
	}
	return strings.TrimSpace(queryToken)
}
