package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"fleetview/playback/internal/domain"

	"github.com/joho/godotenv"
)

// Transport preference values of FLEET_TRANSPORT.
const (
	TransportWebRTC = "webrtc"
	TransportHLS    = "hls"
)

// Config holds the application configuration.
type Config struct {
	Token  string
	Camera string
	APIURL string
	Kind   domain.Kind
	WebRTC bool
	Start  time.Time
	End    time.Time
	Res    domain.Resolution
	Seek   time.Duration

	ReloadDelay   time.Duration
	PeerTimeout   time.Duration
	RetryInterval time.Duration

	// StatusAddr is the listen address of the status server. Empty disables
	// it.
	StatusAddr string
}

// Request returns the stream request described by the configuration.
func (c *Config) Request() domain.StreamRequest {
	return domain.StreamRequest{
		CameraID:   c.Camera,
		Kind:       c.Kind,
		Resolution: c.Res,
		Start:      c.Start,
		End:        c.End,
		WebRTC:     c.WebRTC,
	}
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	token := getenv("FLEET_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("FLEET_TOKEN environment variable is required")
	}

	camera := getenv("FLEET_CAMERA")
	if camera == "" {
		return nil, fmt.Errorf("FLEET_CAMERA environment variable is required")
	}

	cfg := &Config{
		Token:      token,
		Camera:     camera,
		APIURL:     getenv("FLEET_API_URL"),
		StatusAddr: getenv("FLEET_STATUS_ADDR"),
	}

	switch kind := domain.Kind(strings.ToLower(getenv("FLEET_KIND"))); kind {
	case "", domain.KindLive:
		cfg.Kind = domain.KindLive
	case domain.KindClip:
		cfg.Kind = domain.KindClip
	default:
		return nil, fmt.Errorf("FLEET_KIND: unknown kind %q", kind)
	}

	switch transport := strings.ToLower(getenv("FLEET_TRANSPORT")); transport {
	case "", TransportWebRTC:
		cfg.WebRTC = true
	case TransportHLS:
		cfg.WebRTC = false
	default:
		return nil, fmt.Errorf("FLEET_TRANSPORT: unknown transport %q", transport)
	}

	switch res := domain.Resolution(strings.ToLower(getenv("FLEET_RESOLUTION"))); res {
	case "":
		cfg.Res = domain.ResolutionStandard
	case domain.ResolutionLow, domain.ResolutionStandard, domain.ResolutionHigh:
		cfg.Res = res
	default:
		return nil, fmt.Errorf("FLEET_RESOLUTION: unknown tier %q", res)
	}

	var err error
	if cfg.Kind == domain.KindClip {
		if cfg.Start, err = parseTime(getenv, "FLEET_CLIP_START"); err != nil {
			return nil, err
		}
		if cfg.End, err = parseTime(getenv, "FLEET_CLIP_END"); err != nil {
			return nil, err
		}
		if !cfg.End.After(cfg.Start) {
			return nil, fmt.Errorf("FLEET_CLIP_END must be after FLEET_CLIP_START")
		}
	}

	if cfg.Seek, err = parseDuration(getenv, "FLEET_SEEK_OFFSET", 0); err != nil {
		return nil, err
	}
	if cfg.ReloadDelay, err = parseDuration(getenv, "FLEET_RELOAD_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.PeerTimeout, err = parseDuration(getenv, "FLEET_PEER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryInterval, err = parseDuration(getenv, "FLEET_RETRY_INTERVAL", time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseTime(getenv func(string) string, key string) (time.Time, error) {
	raw := getenv(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s environment variable is required for clips", key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func parseDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
