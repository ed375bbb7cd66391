package signal

import (
	"fmt"
	"net/url"
	"time"

	"fleetview/playback/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenLifetime = 5 * time.Minute

// viewerClaims identifies one viewer session on one signaling channel.
type viewerClaims struct {
	Channel string `json:"chn"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// SignedURL returns the signaling endpoint URL carrying the channel, the
// client identity and a token signed with the descriptor's credential.
func SignedURL(desc *domain.SignalingDescriptor, now time.Time) (string, error) {
	if desc.Endpoint == "" {
		return "", fmt.Errorf("signaling endpoint is empty")
	}
	if desc.Credential == "" {
		return "", fmt.Errorf("signaling credential is empty")
	}

	u, err := url.Parse(desc.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse signaling endpoint: %w", err)
	}

	claims := viewerClaims{
		Channel: desc.ChannelID,
		Role:    "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   desc.ClientID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(desc.Credential))
	if err != nil {
		return "", fmt.Errorf("sign viewer token: %w", err)
	}

	q := u.Query()
	q.Set("channel", desc.ChannelID)
	q.Set("clientId", desc.ClientID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
