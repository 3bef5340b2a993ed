package api

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/medconnect/signal-server/internal/types"
)

// The session layer issues the token before the client connects; this
// package only verifies it and extracts the identity claims.
const (
	userIdClaim   = "user-id"
	userNameClaim = "user-name"
	roleClaim     = "role"
)

const tokenCookieKey = "token"

type contextKey string

const sessionUserKey contextKey = "session-user"

func WithSessionUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, sessionUserKey, user)
}

func SessionUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(sessionUserKey).(types.User)

	return user, ok
}

func (s *SignalApp) verifySessionToken(tokenString string) (types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	user := types.User{Id: userId}
	if name, ok := claims[userNameClaim].(string); ok {
		user.Name = name
	}
	if role, ok := claims[roleClaim].(string); ok {
		user.Role = role
	}

	return user, nil
}
