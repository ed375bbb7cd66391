package webrtc

import (
	"fleetview/playback/internal/domain"

	"github.com/pion/rtp"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// videoFramer turns H264 RTP packets into Annex-B access units and frame
// presentation events.
type videoFramer struct {
	clockRate float64
	depack    *H264Depacketizer

	nalus   [][]byte
	haveTS  bool
	firstTS int64
	lastRaw uint32
	ext     int64
	frames  uint64
}

func newVideoFramer(clockRate uint32) *videoFramer {
	if clockRate == 0 {
		clockRate = 90000
	}
	return &videoFramer{
		clockRate: float64(clockRate),
		depack:    NewH264Depacketizer(),
	}
}

// unwrap extends the 32-bit RTP timestamp so wrap-around keeps time
// increasing.
func (f *videoFramer) unwrap(ts uint32) int64 {
	if !f.haveTS {
		f.haveTS = true
		f.lastRaw = ts
		f.ext = int64(ts)
		f.firstTS = f.ext
		return f.ext
	}
	f.ext += int64(int32(ts - f.lastRaw))
	f.lastRaw = ts
	return f.ext
}

// push consumes one packet. When the packet completes an access unit it is
// written to sink and presented.
func (f *videoFramer) push(pkt *rtp.Packet, sink domain.MediaSink) error {
	ts := f.unwrap(pkt.Timestamp)
	for _, nalu := range f.depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
		if len(nalu) > 0 {
			f.nalus = append(f.nalus, nalu)
		}
	}
	if !pkt.Marker || len(f.nalus) == 0 {
		return nil
	}

	var au []byte
	for _, nalu := range f.nalus {
		au = append(au, annexBStartCode...)
		au = append(au, nalu...)
	}
	f.nalus = f.nalus[:0]

	if _, err := sink.Write(au); err != nil {
		return err
	}
	f.frames++
	sink.PresentFrame(domain.FrameMetadata{
		MediaTime:       float64(ts-f.firstTS) / f.clockRate,
		PresentedFrames: f.frames,
	})
	return nil
}
