package webrtc

import (
	"fmt"
	"log"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	warmupStreamID = "warmup"
	pcmuSilence    = 0xFF
	pcmuFrameSize  = 160 // 20ms at 8kHz
)

// InjectWarmup attaches a silent audio track and a blank video track so that
// the offer carries send/receive transceivers for both kinds and candidate
// gathering starts immediately. Both tracks are detached from their senders
// right away so they never carry media.
func (p *Peer) InjectWarmup() error {
	audio, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		"warmup-audio", warmupStreamID,
	)
	if err != nil {
		return fmt.Errorf("create warm-up audio: %w", err)
	}
	video, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000},
		"warmup-video", warmupStreamID,
	)
	if err != nil {
		return fmt.Errorf("create warm-up video: %w", err)
	}

	silence := make([]byte, pcmuFrameSize)
	for i := range silence {
		silence[i] = pcmuSilence
	}

	for _, track := range []*pion.TrackLocalStaticSample{audio, video} {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add warm-up %s: %w", track.Kind(), err)
		}
		if track == audio {
			if err := track.WriteSample(media.Sample{Data: silence, Duration: 20 * time.Millisecond}); err != nil {
				log.Printf("[webrtc] %s: warm-up sample: %v", p.name, err)
			}
		}
		if err := sender.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("stop warm-up %s: %w", track.Kind(), err)
		}
	}

	log.Printf("[webrtc] %s: warm-up tracks attached and stopped", p.name)
	return nil
}
