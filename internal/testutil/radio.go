// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"net"
	"sync"
	"time"

	"bytemomo/whisper/internal/domain"
)

// Radio is a domain.Radio whose behaviour is set per test through function
// fields. Nil fields succeed with zero values.
type Radio struct {
	OpenFunc           func(ctx context.Context) (domain.Handle, error)
	AdvertisementsFunc func(ctx context.Context, h domain.Handle, d time.Duration) (<-chan domain.RawPeerRecord, error)
	ConnectFunc        func(ctx context.Context, h domain.Handle, addr net.HardwareAddr) error
	SendFunc           func(ctx context.Context, h domain.Handle, addr net.HardwareAddr, frame []byte) ([]byte, error)

	mu           sync.Mutex
	Calls        []string
	Disconnected []string
	Closed       []domain.Handle
}

var _ domain.Radio = (*Radio)(nil)

func (r *Radio) record(call string) {
	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	r.mu.Unlock()
}

// CallCount returns how many times call was made.
func (r *Radio) CallCount(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (r *Radio) Open(ctx context.Context) (domain.Handle, error) {
	r.record("open")
	if r.OpenFunc != nil {
		return r.OpenFunc(ctx)
	}
	return "stub", nil
}

func (r *Radio) Advertisements(ctx context.Context, h domain.Handle, d time.Duration) (<-chan domain.RawPeerRecord, error) {
	r.record("advertisements")
	if r.AdvertisementsFunc != nil {
		return r.AdvertisementsFunc(ctx, h, d)
	}
	ch := make(chan domain.RawPeerRecord)
	close(ch)
	return ch, nil
}

func (r *Radio) Connect(ctx context.Context, h domain.Handle, addr net.HardwareAddr) error {
	r.record("connect")
	if r.ConnectFunc != nil {
		return r.ConnectFunc(ctx, h, addr)
	}
	return nil
}

func (r *Radio) Send(ctx context.Context, h domain.Handle, addr net.HardwareAddr, frame []byte) ([]byte, error) {
	r.record("send")
	if r.SendFunc != nil {
		return r.SendFunc(ctx, h, addr, frame)
	}
	return nil, nil
}

func (r *Radio) Disconnect(h domain.Handle, addr net.HardwareAddr) error {
	r.mu.Lock()
	r.Calls = append(r.Calls, "disconnect")
	r.Disconnected = append(r.Disconnected, addr.String())
	r.mu.Unlock()
	return nil
}

func (r *Radio) Close(h domain.Handle) error {
	r.mu.Lock()
	r.Calls = append(r.Calls, "close")
	r.Closed = append(r.Closed, h)
	r.mu.Unlock()
	return nil
}

// Addr builds a test address ending in last.
func Addr(last byte) net.HardwareAddr {
	return net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, last}
}
