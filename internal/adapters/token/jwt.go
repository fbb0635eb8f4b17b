// Package token verifies bearer credentials issued by the web application.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/parley/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier checks HS256 tokens and resolves the user from `sub`, falling back to a
// `user_id` claim for tokens minted by older login flows.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (domain.UserID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}

	uid, err := subject(claims)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return uid, nil
}

func subject(claims jwt.MapClaims) (domain.UserID, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return domain.UserID(sub), nil
	}
	switch id := claims["user_id"].(type) {
	case string:
		if id != "" {
			return domain.UserID(id), nil
		}
	case float64:
		return domain.UserID(strconv.FormatInt(int64(id), 10)), nil
	}
	return "", errors.New("token has no subject")
}
