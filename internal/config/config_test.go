package config

import (
	"strings"
	"testing"
	"time"

	"fleetview/playback/internal/domain"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := fromEnv(env(map[string]string{
		"FLEET_TOKEN":  "tok",
		"FLEET_CAMERA": "cam-42",
	}))
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}

	if cfg.Kind != domain.KindLive || !cfg.WebRTC || cfg.Res != domain.ResolutionStandard {
		t.Errorf("unexpected request defaults %+v", cfg)
	}
	if cfg.ReloadDelay != 500*time.Millisecond || cfg.PeerTimeout != 10*time.Second || cfg.RetryInterval != time.Second {
		t.Errorf("unexpected timing defaults %+v", cfg)
	}
	if cfg.StatusAddr != "" {
		t.Error("status server should be disabled by default")
	}
}

func TestFromEnv_Required(t *testing.T) {
	if _, err := fromEnv(env(map[string]string{"FLEET_CAMERA": "cam"})); err == nil || !strings.Contains(err.Error(), "FLEET_TOKEN") {
		t.Errorf("expected FLEET_TOKEN error, got %v", err)
	}
	if _, err := fromEnv(env(map[string]string{"FLEET_TOKEN": "tok"})); err == nil || !strings.Contains(err.Error(), "FLEET_CAMERA") {
		t.Errorf("expected FLEET_CAMERA error, got %v", err)
	}
}

func TestFromEnv_Clip(t *testing.T) {
	cfg, err := fromEnv(env(map[string]string{
		"FLEET_TOKEN":       "tok",
		"FLEET_CAMERA":      "cam-42",
		"FLEET_KIND":        "clip",
		"FLEET_TRANSPORT":   "hls",
		"FLEET_CLIP_START":  "2024-05-01T08:00:00Z",
		"FLEET_CLIP_END":    "2024-05-01T08:05:00Z",
		"FLEET_SEEK_OFFSET": "30s",
		"FLEET_RESOLUTION":  "HIGH",
	}))
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}

	req := cfg.Request()
	if req.Kind != domain.KindClip || req.WebRTC || req.Resolution != domain.ResolutionHigh {
		t.Errorf("unexpected request %+v", req)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("expected a valid request: %v", err)
	}
	if cfg.Seek != 30*time.Second {
		t.Errorf("expected 30s seek, got %v", cfg.Seek)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	base := map[string]string{"FLEET_TOKEN": "tok", "FLEET_CAMERA": "cam"}
	cases := map[string]map[string]string{
		"kind":        {"FLEET_KIND": "replay"},
		"transport":   {"FLEET_TRANSPORT": "rtmp"},
		"resolution":  {"FLEET_RESOLUTION": "4k"},
		"clip range":  {"FLEET_KIND": "clip", "FLEET_CLIP_START": "2024-05-01T08:05:00Z", "FLEET_CLIP_END": "2024-05-01T08:00:00Z"},
		"clip start":  {"FLEET_KIND": "clip", "FLEET_CLIP_END": "2024-05-01T08:00:00Z"},
		"duration":    {"FLEET_PEER_TIMEOUT": "soon"},
		"negative":    {"FLEET_RELOAD_DELAY": "-1s"},
		"bad instant": {"FLEET_KIND": "clip", "FLEET_CLIP_START": "yesterday", "FLEET_CLIP_END": "2024-05-01T08:00:00Z"},
	}
	for name, extra := range cases {
		m := map[string]string{}
		for k, v := range base {
			m[k] = v
		}
		for k, v := range extra {
			m[k] = v
		}
		if _, err := fromEnv(env(m)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
