package domain

import (
	"context"
	"net"
	"time"
)

// Handle identifies an open session on a radio.
type Handle string

// Radio abstracts the wireless capability used for scanning and pairing.
type Radio interface {
	// Open claims the radio. It fails with ErrCapabilityUnavailable when the
	// adapter is absent or access is not authorised.
	Open(ctx context.Context) (Handle, error)
	// Advertisements streams observations for at most d. The channel is closed
	// when d elapses or ctx is done.
	Advertisements(ctx context.Context, h Handle, d time.Duration) (<-chan RawPeerRecord, error)
	// Connect addresses a specific peer. ErrPeerUnreachable if it is gone.
	Connect(ctx context.Context, h Handle, addr net.HardwareAddr) error
	// Send writes a frame to a connected peer and returns its response.
	Send(ctx context.Context, h Handle, addr net.HardwareAddr, frame []byte) ([]byte, error)
	Disconnect(h Handle, addr net.HardwareAddr) error
	Close(h Handle) error
}

// TraceSink receives advertisements for offline inspection.
type TraceSink interface {
	TraceAdvertisement(rec RawPeerRecord) error
}
