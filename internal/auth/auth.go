// Package auth validates two static API keys (ARIA_API_KEY for normal
// endpoints, ARIA_ADMIN_KEY for privileged ones) in constant time, plus
// an optional JWT bearer path for the admin surface. When neither key is
// configured the service fails open for dev mode, with a startup warning.
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrInvalidKey is returned when a presented API key matches neither
	// configured key.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrInvalidToken is returned for a JWT that fails signature or claim
	// validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Role is the privilege level granted by a successful authentication.
type Role string

const (
	RoleNone  Role = ""
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Config configures the Service.
type Config struct {
	APIKey      string
	AdminKey    string
	JWTSecret   string
	TokenExpiry time.Duration
}

// Service validates API keys and, optionally, JWTs for the admin surface.
type Service struct {
	apiKey   string
	adminKey string
	jwt      *JWTService
	logger   *slog.Logger
}

// NewService builds a Service from static configuration. A logger is used
// once at startup to warn when auth is effectively disabled.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		adminKey: strings.TrimSpace(cfg.AdminKey),
		logger:   logger,
	}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	if !s.Enabled() {
		logger.Warn("auth disabled: neither ARIA_API_KEY nor ARIA_ADMIN_KEY is set; all endpoints fail open")
	}
	return s
}

// Enabled reports whether any credential is configured.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	return s.apiKey != "" || s.adminKey != ""
}

// Authenticate checks a presented API key (from header or query parameter)
// against the configured keys and returns the granted Role. An empty
// Service (dev mode) always grants RoleAdmin. requireAdmin narrows
// acceptance to the admin key only.
func (s *Service) Authenticate(presented string, requireAdmin bool) (Role, error) {
	if !s.Enabled() {
		return RoleAdmin, nil
	}
	key := strings.TrimSpace(presented)
	if key == "" {
		return RoleNone, ErrInvalidKey
	}
	if s.adminKey != "" && constantTimeEqual(key, s.adminKey) {
		return RoleAdmin, nil
	}
	if requireAdmin {
		return RoleNone, ErrInvalidKey
	}
	if s.apiKey != "" && constantTimeEqual(key, s.apiKey) {
		return RoleUser, nil
	}
	return RoleNone, ErrInvalidKey
}

// AuthenticateBearer validates a JWT for the admin surface.
func (s *Service) AuthenticateBearer(token string) (Role, error) {
	if s == nil || s.jwt == nil {
		return RoleNone, ErrInvalidToken
	}
	if _, err := s.jwt.Validate(token); err != nil {
		return RoleNone, err
	}
	return RoleAdmin, nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
