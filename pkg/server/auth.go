package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnauthorized  = errors.New("missing or invalid credentials")
	errAPIKeyWithJWT = errors.New("api keys are not accepted when jwt authentication is configured")
)

type Identity struct {
	// Method is one of anonymous, api_key, bearer or jwt.
	Method  string
	Subject string
}

type identityKey struct{}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.identify(r)

		if err != nil {
			s.logger.Warn("authentication failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeError(w, http.StatusUnauthorized, "authentication_error", errUnauthorized.Error())
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) identify(r *http.Request) (Identity, error) {
	bearer := ""

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")

		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return Identity{}, errors.New("malformed authorization header")
		}

		bearer = strings.TrimSpace(token)
	}

	if bearer != "" {
		if s.auth.JWTSecret == "" {
			return Identity{Method: "bearer"}, nil
		}

		subject, err := parseToken(bearer, s.auth.JWTSecret)

		if err != nil {
			return Identity{}, err
		}

		return Identity{Method: "jwt", Subject: subject}, nil
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		if s.auth.JWTSecret != "" {
			return Identity{}, errAPIKeyWithJWT
		}

		return Identity{Method: "api_key"}, nil
	}

	if s.auth.Required {
		return Identity{}, errUnauthorized
	}

	return Identity{Method: "anonymous"}, nil
}

func parseToken(value, secret string) (string, error) {
	token, err := jwt.Parse(value, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", errors.New("token is invalid")
	}

	subject, _ := token.Claims.GetSubject()

	return subject, nil
}
