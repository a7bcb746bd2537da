// Package video issues room credentials for the supported video backends.
//
// Adapters are the only place that knows a backend's token format; the call
// service only sees calls.CredentialIssuer.
package video

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/config"
)

// DefaultTokenTTL is the credential lifetime when none is configured.
const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidRequest = errors.New("video: invalid credential request")

// Issuer is a calls.CredentialIssuer with a backend name for logs.
type Issuer interface {
	calls.CredentialIssuer
	Name() string
}

// NewIssuer builds the issuer selected by cfg.Provider.
func NewIssuer(cfg config.VideoConfig) (Issuer, error) {
	switch cfg.Provider {
	case config.VideoJitsi, "":
		return NewJWTIssuer(cfg.AppID, cfg.AppSecret, cfg.BaseURL, cfg.TokenTTL)
	case config.VideoLiveKit:
		return NewLiveKitIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.BaseURL, cfg.TokenTTL)
	default:
		return nil, fmt.Errorf("video: unknown provider %q", cfg.Provider)
	}
}

func validate(req calls.CredentialRequest) error {
	if strings.TrimSpace(req.CalleeID) == "" || strings.TrimSpace(req.RoomID) == "" {
		return fmt.Errorf("%w: callee and room are required", ErrInvalidRequest)
	}
	switch req.Role {
	case calls.RoleHost, calls.RoleGuest:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}
}

// roomLink returns <base>/<roomId>.
func roomLink(base, roomID string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(roomID)
}

func normalizeBase(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("video: base url must be absolute, got %q", base)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
