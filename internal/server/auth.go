package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
)

// EnvToken is consulted when no token is configured explicitly.
const EnvToken = "PI_ISLAND_TOKEN"

// AuthMode represents the authentication mode.
type AuthMode int

const (
	// AuthModeNone disables authentication (local use only).
	AuthModeNone AuthMode = iota
	// AuthModeToken uses a static bearer token.
	AuthModeToken
	// AuthModeEnvToken reads the token from an environment variable.
	AuthModeEnvToken
)

// AuthConfig holds bearer token authentication configuration.
type AuthConfig struct {
	Mode   AuthMode
	Token  string // for AuthModeToken
	EnvVar string // for AuthModeEnvToken
}

// AuthFromToken picks the mode for a configured token: an explicit token
// wins, then EnvToken if set, else no auth.
func AuthFromToken(token string) AuthConfig {
	switch {
	case token != "":
		return AuthConfig{Mode: AuthModeToken, Token: token}
	case os.Getenv(EnvToken) != "":
		return AuthConfig{Mode: AuthModeEnvToken, EnvVar: EnvToken}
	default:
		return AuthConfig{Mode: AuthModeNone}
	}
}

// BearerAuthenticator handles bearer token authentication for HTTP requests.
type BearerAuthenticator struct {
	config AuthConfig
}

// NewBearerAuthenticator creates a new authenticator with the given configuration.
func NewBearerAuthenticator(config AuthConfig) *BearerAuthenticator {
	return &BearerAuthenticator{config: config}
}

// IsEnabled returns true if authentication is enabled.
func (a *BearerAuthenticator) IsEnabled() bool {
	return a.config.Mode != AuthModeNone
}

func (a *BearerAuthenticator) authenticate(w http.ResponseWriter, r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")

	// Browsers cannot set headers on WebSocket upgrades.
	if authHeader == "" {
		if qToken := r.URL.Query().Get("token"); qToken != "" {
			authHeader = "Bearer " + qToken
		}
	}

	if authHeader == "" {
		writeUnauthorized(w, "Missing Authorization header")
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeUnauthorized(w, "Invalid Authorization header format")
		return false
	}

	expected := a.expectedToken()
	if expected == "" {
		writeUnauthorized(w, "Server authentication not configured")
		return false
	}

	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
		islandlog.Log.Info("Authentication failed: invalid token", "remote", r.RemoteAddr)
		writeUnauthorized(w, "Invalid token")
		return false
	}
	return true
}

func (a *BearerAuthenticator) expectedToken() string {
	switch a.config.Mode {
	case AuthModeToken:
		return a.config.Token
	case AuthModeEnvToken:
		return os.Getenv(a.config.EnvVar)
	default:
		return ""
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pi-island"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

// Middleware enforces authentication when enabled. Health checks are
// always allowed.
func (a *BearerAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.IsEnabled() || r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !a.authenticate(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateSecureToken returns 32 random bytes encoded as hex.
func GenerateSecureToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
