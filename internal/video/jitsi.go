package video

import (
	"context"
	"errors"
	"net/url"
	"time"

	"teleconsult/internal/calls"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoomClaims is the HS256 room token understood by Jitsi-style servers
// (prosody token auth): the room name, the user context and a moderator flag.
type RoomClaims struct {
	jwt.RegisteredClaims

	Room    string      `json:"room"`
	Context RoomContext `json:"context"`
}

type RoomContext struct {
	User RoomUser `json:"user"`
}

type RoomUser struct {
	ID        string `json:"id"`
	Moderator bool   `json:"moderator"`
}

// JWTIssuer signs room tokens locally with a shared secret.
type JWTIssuer struct {
	appID  string
	secret []byte
	base   string
	host   string
	ttl    time.Duration
	clock  func() time.Time
}

func NewJWTIssuer(appID, secret, baseURL string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("video: jitsi app secret is required")
	}
	base, err := normalizeBase(baseURL)
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(base)
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTIssuer{appID: appID, secret: []byte(secret), base: base, host: u.Host, ttl: ttl, clock: time.Now}, nil
}

func (i *JWTIssuer) Name() string { return "jitsi" }

func (i *JWTIssuer) Issue(ctx context.Context, req calls.CredentialRequest) (calls.Credential, error) {
	if err := validate(req); err != nil {
		return calls.Credential{}, err
	}
	if err := ctx.Err(); err != nil {
		return calls.Credential{}, err
	}

	now := i.clock().UTC()
	exp := now.Add(i.ttl)
	jti := uuid.NewString()
	claims := RoomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   i.host,
			Audience:  jwt.ClaimStrings{"jitsi"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
		Room: req.RoomID,
		Context: RoomContext{User: RoomUser{
			ID:        req.CalleeID,
			Moderator: req.Role == calls.RoleHost,
		}},
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return calls.Credential{}, err
	}
	return calls.Credential{
		Token:     tok,
		Link:      roomLink(i.base, req.RoomID),
		TokenID:   jti,
		ExpiresAt: exp,
	}, nil
}
