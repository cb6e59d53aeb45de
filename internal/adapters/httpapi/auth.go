package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("missing bearer credential")
	ErrInvalidCredential = errors.New("invalid bearer credential")
)

// AuthConfig enables bearer authentication on the MCP endpoint. A static
// token, an HS256 signing secret, or both may be set.
type AuthConfig struct {
	Token       string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type authenticator struct {
	token  []byte
	jwtKey []byte
	parser *jwt.Parser
}

// newAuthenticator returns nil when no credential is configured.
func newAuthenticator(cfg AuthConfig) (*authenticator, error) {
	token := strings.TrimSpace(cfg.Token)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" {
		return nil, nil
	}
	a := &authenticator{}
	if token != "" {
		a.token = []byte(token)
	}
	if secret != "" {
		if len(secret) < 16 {
			return nil, fmt.Errorf("jwt secret must be at least 16 bytes, got %d", len(secret))
		}
		a.jwtKey = []byte(secret)
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if cfg.JWTIssuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
		}
		if cfg.JWTAudience != "" {
			opts = append(opts, jwt.WithAudience(cfg.JWTAudience))
		}
		a.parser = jwt.NewParser(opts...)
	}
	return a, nil
}

// verify checks the bearer credential of r and returns a stable identity for
// rate limiting. A nil authenticator admits every request.
func (a *authenticator) verify(r *http.Request) (string, error) {
	if a == nil {
		return "", nil
	}
	raw := bearerToken(r)
	if raw == "" {
		return "", ErrMissingCredential
	}
	if a.token != nil && subtle.ConstantTimeCompare([]byte(raw), a.token) == 1 {
		return raw, nil
	}
	if a.parser == nil {
		return "", ErrInvalidCredential
	}
	claims := jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.jwtKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject != "" {
		return "jwt:" + claims.Subject, nil
	}
	return raw, nil
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[len("bearer "):])
}
