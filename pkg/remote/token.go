package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/livekit/protocol/auth"
)

// TokenSource issues a short-lived realtime-session credential. Issuance
// failure is treated identically to a connect failure by callers.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPTokenSource fetches tokens from the external token-issuing
// collaborator.
type HTTPTokenSource struct {
	// Endpoint is the token issuance URL.
	Endpoint string

	// Client is the HTTP client to use. Defaults to http.DefaultClient.
	Client *http.Client
}

// Token requests a credential from the endpoint. The response body is
// expected to be {"token": "<jwt>"}.
func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}
	return body.Token, nil
}

// LocalTokenSource mints tokens directly from an API key pair. Intended
// for development and tests; production deployments issue tokens from a
// backend so the secret never reaches the client.
type LocalTokenSource struct {
	APIKey    string
	APISecret string
	Room      string
	Identity  string

	// TTL bounds token validity. Defaults to 10 minutes.
	TTL time.Duration
}

// Token mints a fresh room-join credential.
func (s *LocalTokenSource) Token(ctx context.Context) (string, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	at := auth.NewAccessToken(s.APIKey, s.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     s.Room,
	}
	at.SetVideoGrant(grant).
		SetIdentity(s.Identity).
		SetValidFor(ttl)

	jwt, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return jwt, nil
}
