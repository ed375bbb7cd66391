package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetview/playback/internal/domain"

	"github.com/google/uuid"
)

// DefaultBaseURL is the production provisioning endpoint.
const DefaultBaseURL = "https://api.fleetview.example"

const streamsPath = "/v1/streams"

type streamRequest struct {
	RequestID  string `json:"requestId"`
	CameraID   string `json:"cameraId"`
	Kind       string `json:"kind"`
	Resolution string `json:"resolution,omitempty"`
	Protocol   string `json:"protocol"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

type streamData struct {
	URL       string                      `json:"url"`
	Signaling *domain.SignalingDescriptor `json:"signaling"`
}

type streamResponse struct {
	Result int        `json:"result"`
	Msg    string     `json:"msg"`
	Data   streamData `json:"data"`
}

// Client issues stream descriptors from the provisioning API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client authenticating with token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func protocol(req domain.StreamRequest) string {
	if req.Kind == domain.KindLive && req.WebRTC {
		return "webrtc"
	}
	return "hls"
}

// Describe asks the API for a descriptor serving req: a playlist URL for
// segmented playback, or signaling credentials for a real-time session.
func (c *Client) Describe(ctx context.Context, req domain.StreamRequest) (*domain.StreamDescriptor, error) {
	body := streamRequest{
		RequestID:  uuid.NewString(),
		CameraID:   req.CameraID,
		Kind:       string(req.Kind),
		Resolution: string(req.Resolution),
		Protocol:   protocol(req),
	}
	if req.Kind == domain.KindClip {
		body.Start = req.Start.UTC().Format(time.RFC3339)
		body.End = req.End.UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("X-Request-Id", body.RequestID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var streamResp streamResponse
	if err := json.Unmarshal(respBody, &streamResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if streamResp.Result != 0 {
		return nil, fmt.Errorf("API error (result=%d): %s", streamResp.Result, streamResp.Msg)
	}

	desc := &domain.StreamDescriptor{
		CameraID:   req.CameraID,
		Kind:       req.Kind,
		Resolution: req.Resolution,
		Start:      req.Start,
		End:        req.End,
		URL:        streamResp.Data.URL,
		Signaling:  streamResp.Data.Signaling,
	}
	if desc.Signaling != nil && desc.Signaling.ClientID == "" {
		desc.Signaling.ClientID = uuid.NewString()
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}
