package hls

import (
	"sync"
	"time"

	"github.com/grafov/m3u8"
)

// Fragment is one media segment placed on the media timeline.
type Fragment struct {
	Seq             uint64
	URI             string
	Start           float64
	Duration        float64
	ProgramDateTime time.Time
}

// End returns the media time at which the fragment ends.
func (f Fragment) End() float64 { return f.Start + f.Duration }

// timeline assigns media times to segments by sequence number so that
// successive live playlists line up with each other.
type timeline struct {
	mu    sync.Mutex
	frags map[uint64]Fragment
	last  *Fragment
}

func newTimeline() *timeline {
	return &timeline{frags: make(map[uint64]Fragment)}
}

// update places every segment of pl and returns them in playlist order.
func (tl *timeline) update(pl *m3u8.MediaPlaylist) []Fragment {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	var out []Fragment
	var prev *Fragment
	for i, seg := range pl.Segments {
		if seg == nil {
			break
		}
		seq := pl.SeqNo + uint64(i)
		f, known := tl.frags[seq]
		if !known {
			f = Fragment{Seq: seq, URI: seg.URI, Duration: seg.Duration, ProgramDateTime: seg.ProgramDateTime}
			switch {
			case prev != nil:
				f.Start = prev.End()
			case tl.last != nil:
				f.Start = tl.last.End()
			}
			if f.ProgramDateTime.IsZero() && prev != nil && !prev.ProgramDateTime.IsZero() {
				f.ProgramDateTime = prev.ProgramDateTime.Add(time.Duration(prev.Duration * float64(time.Second)))
			}
			tl.frags[seq] = f
			if tl.last == nil || seq > tl.last.Seq {
				cp := f
				tl.last = &cp
			}
		}
		out = append(out, f)
		prev = &out[len(out)-1]
	}
	return out
}

// at returns the fragment containing media time t.
func (tl *timeline) at(t float64) (Fragment, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, f := range tl.frags {
		if t >= f.Start && t < f.End() {
			return f, true
		}
	}
	return Fragment{}, false
}

// forget drops fragments that ended before t.
func (tl *timeline) forget(t float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for seq, f := range tl.frags {
		if f.End() < t && (tl.last == nil || seq != tl.last.Seq) {
			delete(tl.frags, seq)
		}
	}
}

func (tl *timeline) reset() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.frags = make(map[uint64]Fragment)
	tl.last = nil
}
