// Package sim is an in-memory radio that plays back a scripted peer population.
// It backs the CLI's --sim mode, the bridge daemon used in development and
// most package tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"bytemomo/whisper/internal/domain"
)

const defaultInterval = 100 * time.Millisecond

// Reply scripts the answer to one frame sent to a peer.
type Reply struct {
	Respond domain.HexBytes `yaml:"respond,omitempty"`
	Delay   time.Duration   `yaml:"delay,omitempty"`
	Silent  bool            `yaml:"silent,omitempty"` // never answers
	Drop    bool            `yaml:"drop,omitempty"`   // link lost while waiting
}

// Peer is one simulated device.
type Peer struct {
	Address       string          `yaml:"address"`
	Name          string          `yaml:"name,omitempty"`
	RSSI          int             `yaml:"rssi,omitempty"`
	Advertisement domain.HexBytes `yaml:"advertisement"`
	FirstSeen     time.Duration   `yaml:"first_seen,omitempty"`
	Interval      time.Duration   `yaml:"interval,omitempty"`
	Unreachable   bool            `yaml:"unreachable,omitempty"`

	// Replies[i] answers the i-th frame of a connection. Frames beyond the
	// script are met with silence.
	Replies []Reply `yaml:"replies,omitempty"`
}

func (p Peer) Validate() error {
	if _, err := domain.ParseAddress(p.Address); err != nil {
		return err
	}
	if p.Interval < 0 || p.FirstSeen < 0 {
		return fmt.Errorf("peer %s: negative timing", p.Address)
	}
	return nil
}

// Fixture is the simulated environment.
type Fixture struct {
	Unavailable bool   `yaml:"unavailable,omitempty"`
	Peers       []Peer `yaml:"peers"`
}

type peer struct {
	Peer
	addr net.HardwareAddr
}

type session struct {
	conns map[string]int
}

// Radio implements domain.Radio over a Fixture.
type Radio struct {
	unavailable bool
	peers       []*peer
	byKey       map[string]*peer

	mu       sync.Mutex
	nextID   int
	sessions map[domain.Handle]*session
	sent     map[string][][]byte
}

var _ domain.Radio = (*Radio)(nil)

// New validates the fixture and builds the radio.
func New(fx Fixture) (*Radio, error) {
	r := &Radio{
		unavailable: fx.Unavailable,
		byKey:       make(map[string]*peer),
		sessions:    make(map[domain.Handle]*session),
		sent:        make(map[string][][]byte),
	}
	for i, p := range fx.Peers {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("peer %d: %w", i, err)
		}
		addr, _ := domain.ParseAddress(p.Address)
		sp := &peer{Peer: p, addr: addr}
		if sp.Interval == 0 {
			sp.Interval = defaultInterval
		}
		r.peers = append(r.peers, sp)
		r.byKey[domain.AddressKey(addr)] = sp
	}
	return r, nil
}

func (r *Radio) Open(ctx context.Context) (domain.Handle, error) {
	if r.unavailable {
		return "", domain.Unavailable("sim open", errors.New("adapter disabled by fixture"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h := domain.Handle(fmt.Sprintf("sim-%d", r.nextID))
	r.sessions[h] = &session{conns: make(map[string]int)}
	return h, nil
}

func (r *Radio) Advertisements(ctx context.Context, h domain.Handle, d time.Duration) (<-chan domain.RawPeerRecord, error) {
	if err := r.checkHandle(h); err != nil {
		return nil, err
	}

	out := make(chan domain.RawPeerRecord, 64)
	if d <= 0 {
		close(out)
		return out, nil
	}

	listenCtx, cancel := context.WithTimeout(ctx, d)
	var wg sync.WaitGroup
	for _, p := range r.peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			advertise(listenCtx, p, out)
		}(p)
	}
	go func() {
		wg.Wait()
		<-listenCtx.Done()
		cancel()
		close(out)
	}()
	return out, nil
}

func advertise(ctx context.Context, p *peer, out chan<- domain.RawPeerRecord) {
	timer := time.NewTimer(p.FirstSeen)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		rec := domain.RawPeerRecord{
			Address: p.addr,
			Name:    p.Name,
			RSSI:    p.RSSI,
			Payload: append([]byte(nil), p.Advertisement...),
			SeenAt:  time.Now(),
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
		timer.Reset(p.Interval)
	}
}

func (r *Radio) Connect(ctx context.Context, h domain.Handle, addr net.HardwareAddr) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[h]
	if !ok {
		return domain.Unavailable("sim connect", fmt.Errorf("unknown handle %q", h))
	}
	p, ok := r.byKey[domain.AddressKey(addr)]
	if !ok || p.Unreachable {
		return fmt.Errorf("connect %s: %w", addr, domain.ErrPeerUnreachable)
	}
	s.conns[domain.AddressKey(addr)] = 0
	return nil
}

func (r *Radio) Send(ctx context.Context, h domain.Handle, addr net.HardwareAddr, frame []byte) ([]byte, error) {
	key := domain.AddressKey(addr)

	r.mu.Lock()
	s, ok := r.sessions[h]
	if !ok {
		r.mu.Unlock()
		return nil, domain.Unavailable("sim send", fmt.Errorf("unknown handle %q", h))
	}
	idx, connected := s.conns[key]
	if !connected {
		r.mu.Unlock()
		return nil, fmt.Errorf("send %s: not connected: %w", addr, domain.ErrPeerUnreachable)
	}
	s.conns[key] = idx + 1
	r.sent[key] = append(r.sent[key], append([]byte(nil), frame...))
	p := r.byKey[key]
	r.mu.Unlock()

	reply := Reply{Silent: true}
	if idx < len(p.Replies) {
		reply = p.Replies[idx]
	}

	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	switch {
	case reply.Drop:
		return nil, fmt.Errorf("send %s: link dropped: %w", addr, domain.ErrPeerUnreachable)
	case reply.Silent:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return append([]byte(nil), reply.Respond...), nil
}

func (r *Radio) Disconnect(h domain.Handle, addr net.HardwareAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[h]; ok {
		delete(s.conns, domain.AddressKey(addr))
	}
	return nil
}

func (r *Radio) Close(h domain.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[h]; !ok {
		return fmt.Errorf("close: unknown handle %q", h)
	}
	delete(r.sessions, h)
	return nil
}

// Sent returns the frames written to addr, oldest first.
func (r *Radio) Sent(addr net.HardwareAddr) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := r.sent[domain.AddressKey(addr)]
	out := make([][]byte, len(frames))
	copy(out, frames)
	return out
}

func (r *Radio) checkHandle(h domain.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[h]; !ok {
		return domain.Unavailable("sim", fmt.Errorf("unknown handle %q", h))
	}
	return nil
}
