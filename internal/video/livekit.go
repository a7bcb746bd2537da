package video

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"teleconsult/internal/calls"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
)

// LiveKitIssuer mints LiveKit access tokens. The room is created on first
// join by the LiveKit server, so issuance needs no network call.
type LiveKitIssuer struct {
	apiKey    string
	apiSecret string
	base      string
	ttl       time.Duration
	clock     func() time.Time
}

// tokenMetadata travels in the token's metadata claim. LiveKit tokens have
// no jti of their own.
type tokenMetadata struct {
	TokenID string `json:"jti"`
	Role    string `json:"role"`
}

func NewLiveKitIssuer(apiKey, apiSecret, baseURL string, ttl time.Duration) (*LiveKitIssuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("video: livekit api key and secret are required")
	}
	base, err := normalizeBase(baseURL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &LiveKitIssuer{apiKey: apiKey, apiSecret: apiSecret, base: base, ttl: ttl, clock: time.Now}, nil
}

func (i *LiveKitIssuer) Name() string { return "livekit" }

func (i *LiveKitIssuer) Issue(ctx context.Context, req calls.CredentialRequest) (calls.Credential, error) {
	if err := validate(req); err != nil {
		return calls.Credential{}, err
	}
	if err := ctx.Err(); err != nil {
		return calls.Credential{}, err
	}

	jti := uuid.NewString()
	meta, err := json.Marshal(tokenMetadata{TokenID: jti, Role: req.Role})
	if err != nil {
		return calls.Credential{}, err
	}

	grant := &auth.VideoGrant{
		Room:      req.RoomID,
		RoomJoin:  true,
		RoomAdmin: req.Role == calls.RoleHost,
	}
	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	at.AddGrant(grant).
		SetIdentity(req.CalleeID).
		SetMetadata(string(meta)).
		SetValidFor(i.ttl)

	tok, err := at.ToJWT()
	if err != nil {
		return calls.Credential{}, err
	}
	return calls.Credential{
		Token:     tok,
		Link:      roomLink(i.base, req.RoomID),
		TokenID:   jti,
		ExpiresAt: i.clock().UTC().Add(i.ttl),
	}, nil
}
