// Package auth provides the signed-token primitive and the bearer-token
// middleware. Token claims carry the subject email and internal user id;
// everything beyond "which user is this" is decided by the permission
// resolver, never by the token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the JWT claim set used for both access and refresh tokens.
type Claims struct {
	UserID    uint   `json:"user_id"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 signed tokens.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer creates an Issuer with the given signing secret and TTLs.
func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Issuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// IssueAccess mints an access token for the given user.
func (i *Issuer) IssueAccess(userID uint, email string) (string, error) {
	return i.issue(userID, email, TokenTypeAccess, i.accessTTL)
}

// IssueRefresh mints a refresh token for the given user.
func (i *Issuer) IssueRefresh(userID uint, email string) (string, error) {
	return i.issue(userID, email, TokenTypeRefresh, i.refreshTTL)
}

func (i *Issuer) issue(userID uint, email, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a token, requiring the given token type.
func (i *Issuer) Verify(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", ErrTokenInvalid, tokenType)
	}
	if claims.Subject == "" || claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing subject or user_id", ErrTokenInvalid)
	}
	return claims, nil
}
