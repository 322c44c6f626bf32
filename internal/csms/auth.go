package csms

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("csms: missing bearer token")

// authorizeUpgrade checks the HTTP-upgrade request when an auth secret is
// configured. The OCPP 1.6J link itself carries no auth envelope; this sits
// at the HTTP boundary only. Stations present an HS256 token either as a
// Bearer header or, for clients that cannot set headers, a ?token= query
// parameter.
func (b *Backend) authorizeUpgrade(r *http.Request) error {
	if b.cfg.AuthSecret == "" {
		return nil
	}

	tokenStr := r.URL.Query().Get("token")
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return errors.New("csms: invalid authorization header format")
		}
		tokenStr = parts[1]
	}
	if tokenStr == "" {
		return errMissingToken
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(b.cfg.AuthSecret), nil
	})
	if err != nil {
		return fmt.Errorf("csms: token validation: %w", err)
	}
	if !token.Valid {
		return errors.New("csms: invalid token")
	}
	return nil
}
