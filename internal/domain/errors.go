package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform is reported when neither native nor software
	// segmented playback is available on the surface.
	ErrUnsupportedPlatform = errors.New("no viable decoder for this surface")

	// ErrNegotiationTimeout is reported when the remote peer never answered
	// the offer within the peer-response timeout.
	ErrNegotiationTimeout = errors.New("no signaling response from peer")

	// ErrConnectionLost is reported when the peer connection drops to
	// disconnected or failed.
	ErrConnectionLost = errors.New("peer connection lost")

	// ErrDisposed is returned by operations on a disposed engine.
	ErrDisposed = errors.New("engine disposed")
)

// FatalKind classifies a fatal segment transport error.
type FatalKind string

const (
	FatalNetwork FatalKind = "network"
	FatalMedia   FatalKind = "media"
)

// FatalTransportError is a non-recoverable decoder or network error raised
// by the segmented-stream client.
type FatalTransportError struct {
	Kind    FatalKind
	Details string
	Err     error
}

func (e *FatalTransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal %s error (%s): %v", e.Kind, e.Details, e.Err)
	}
	return fmt.Sprintf("fatal %s error (%s)", e.Kind, e.Details)
}

func (e *FatalTransportError) Unwrap() error { return e.Err }

// SignalingError is a non-fatal signaling failure.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// RefetchFailure wraps an error from the provisioning collaborator while
// reissuing a stream descriptor.
type RefetchFailure struct {
	Err error
}

func (e *RefetchFailure) Error() string {
	return fmt.Sprintf("refetch stream descriptor: %v", e.Err)
}

func (e *RefetchFailure) Unwrap() error { return e.Err }
