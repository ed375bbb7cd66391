package webrtc

import (
	"bytes"
	"testing"
)

// FU-A packets fragmenting an IDR slice (type 5) with NRI=3.
var (
	fuaStart = []byte{0x7C, 0x85, 0x01, 0x02}
	fuaMid   = []byte{0x7C, 0x05, 0x03, 0x04}
	fuaEnd   = []byte{0x7C, 0x45, 0x05, 0x06}
)

func TestDepacketize_SingleNAL(t *testing.T) {
	d := NewH264Depacketizer()

	payload := []byte{0x65, 0x01, 0x02, 0x03}
	nalus := d.Depacketize(100, payload)

	if len(nalus) != 1 || !bytes.Equal(nalus[0], payload) {
		t.Fatalf("expected single NALU %v, got %v", payload, nalus)
	}
}

func TestDepacketize_STAPA(t *testing.T) {
	d := NewH264Depacketizer()

	sps := []byte{0x67, 0xAA, 0xBB}
	pps := []byte{0x68, 0xCC}
	payload := []byte{0x18, 0x00, 0x03}
	payload = append(payload, sps...)
	payload = append(payload, 0x00, 0x02)
	payload = append(payload, pps...)

	nalus := d.Depacketize(100, payload)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NALUs, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[0], sps) || !bytes.Equal(nalus[1], pps) {
		t.Errorf("unexpected NALUs %v", nalus)
	}
}

func TestDepacketize_STAPAStopsAtZeroSize(t *testing.T) {
	d := NewH264Depacketizer()
	if nalus := d.Depacketize(100, []byte{0x18, 0x00, 0x00}); len(nalus) != 0 {
		t.Fatalf("expected 0 NALUs, got %d", len(nalus))
	}
}

func TestDepacketize_FUAReassembly(t *testing.T) {
	d := NewH264Depacketizer()

	if got := d.Depacketize(100, fuaStart); got != nil {
		t.Fatalf("expected nil on start fragment, got %d NALUs", len(got))
	}
	if got := d.Depacketize(101, fuaMid); got != nil {
		t.Fatalf("expected nil on middle fragment, got %d NALUs", len(got))
	}
	nalus := d.Depacketize(102, fuaEnd)
	if len(nalus) != 1 {
		t.Fatalf("expected 1 NALU on end fragment, got %d", len(nalus))
	}

	expected := []byte{0x65, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if !bytes.Equal(nalus[0], expected) {
		t.Errorf("expected %v, got %v", expected, nalus[0])
	}
}

func TestDepacketize_EmptyPayload(t *testing.T) {
	d := NewH264Depacketizer()
	if nalus := d.Depacketize(0, nil); nalus != nil {
		t.Errorf("expected nil for nil payload, got %v", nalus)
	}
	if nalus := d.Depacketize(1, []byte{}); nalus != nil {
		t.Errorf("expected nil for empty payload, got %v", nalus)
	}
}

func TestDepacketize_InstanceIsolation(t *testing.T) {
	d1 := NewH264Depacketizer()
	d2 := NewH264Depacketizer()

	d1.Depacketize(100, fuaStart)

	if nalus := d2.Depacketize(101, fuaEnd); nalus != nil {
		t.Fatalf("expected no NALU for orphan end fragment, got %d", len(nalus))
	}
	if nalus := d1.Depacketize(101, fuaEnd); len(nalus) != 1 {
		t.Fatalf("expected d1 to produce 1 NALU, got %d", len(nalus))
	}
}

func TestDepacketize_FUADropsOnSequenceGap(t *testing.T) {
	d := NewH264Depacketizer()

	d.Depacketize(100, fuaStart)
	if got := d.Depacketize(102, fuaMid); got != nil {
		t.Fatalf("expected nil after sequence gap, got %d NALUs", len(got))
	}
	if got := d.Depacketize(103, fuaEnd); got != nil {
		t.Fatalf("expected nil on end after dropped chain, got %d NALUs", len(got))
	}

	d.Depacketize(104, fuaStart)
	if got := d.Depacketize(105, fuaEnd); len(got) != 1 {
		t.Fatalf("expected recovery on next start fragment, got %d NALUs", len(got))
	}
}

func TestDepacketize_SequenceWrap(t *testing.T) {
	d := NewH264Depacketizer()

	d.Depacketize(65535, fuaStart)
	if got := d.Depacketize(0, fuaEnd); len(got) != 1 {
		t.Fatalf("expected reassembly across sequence wrap, got %d NALUs", len(got))
	}
}
