package hls

import "fleetview/playback/internal/domain"

// Profile holds the buffering parameters of one playback session. It is
// chosen once from the request kind and never changes afterwards.
type Profile struct {
	// LiveSyncOffset is how far behind the live edge playback starts, in
	// seconds. Zero disables live sync.
	LiveSyncOffset float64

	// MaxBufferHole is the largest gap between buffered ranges, in seconds,
	// that playback jumps over instead of stalling.
	MaxBufferHole float64

	// NudgeOffset is added past a hole's end when jumping over it.
	NudgeOffset float64

	// BackBufferRetention is how much already-played media is kept, in
	// seconds. Negative keeps everything.
	BackBufferRetention float64
}

// ProfileFor returns the buffering profile for a request kind.
func ProfileFor(kind domain.Kind) Profile {
	if kind == domain.KindLive {
		return Profile{
			LiveSyncOffset:      1.0,
			MaxBufferHole:       2.5,
			NudgeOffset:         0.2,
			BackBufferRetention: 30,
		}
	}
	return Profile{
		LiveSyncOffset:      0,
		MaxBufferHole:       0.5,
		NudgeOffset:         0.1,
		BackBufferRetention: -1,
	}
}
