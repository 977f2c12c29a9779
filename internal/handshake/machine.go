// Package handshake drives the pairing exchange with a single peer.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/procedure"

	"github.com/sirupsen/logrus"
)

const defaultStepTimeout = 5 * time.Second

// Resolver picks the trigger procedure for a device.
type Resolver interface {
	Resolve(d domain.Device) (procedure.Procedure, error)
}

// Options configures one machine.
type Options struct {
	Log         *logrus.Entry
	Radio       domain.Radio
	Handle      domain.Handle
	Device      domain.Device
	Profile     domain.Profile
	Procedures  Resolver
	StepTimeout time.Duration

	// Rand seeds session material. Defaults to crypto/rand.
	Rand io.Reader
}

// Transition is one entry of the machine history.
type Transition struct {
	From domain.State
	To   domain.State
	At   time.Time
}

// Machine runs a single handshake attempt. It cannot be reused; retries build
// a new machine.
type Machine struct {
	opts Options
	log  *logrus.Entry
	used atomic.Bool

	mu      sync.Mutex
	state   domain.State
	history []Transition
}

func NewMachine(opts Options) *Machine {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Machine{
		opts:  opts,
		log:   log.WithField("address", opts.Device.Address.String()),
		state: domain.StateInit,
	}
}

// State returns the current state.
func (m *Machine) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns the transitions taken so far.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Run executes the attempt. The returned error is only ErrAttemptConsumed;
// every other failure is reported through the attempt outcome.
func (m *Machine) Run(ctx context.Context) (domain.Attempt, error) {
	if !m.used.CompareAndSwap(false, true) {
		return domain.Attempt{}, domain.ErrAttemptConsumed
	}

	att := domain.Attempt{
		TargetAddress: m.opts.Device.Address.String(),
		StartTime:     time.Now(),
	}
	final, detail, err := m.run(ctx, &att)
	att.FinalState = final
	att.Outcome, _ = final.Outcome()
	att.Duration = time.Since(att.StartTime)
	att.Err = err
	if att.Outcome.CarriesDetail() {
		att.Detail = detail
	}

	m.log.WithFields(logrus.Fields{
		"session":  att.SessionID,
		"outcome":  att.Outcome.String(),
		"duration": att.Duration.Round(time.Millisecond),
	}).Debug("Handshake finished")
	return att, nil
}

func (m *Machine) run(ctx context.Context, att *domain.Attempt) (domain.State, []byte, error) {
	if ctx.Err() != nil {
		return m.fail(ctx, ctx.Err(), "before connect")
	}

	_, err := m.within(ctx, func(stepCtx context.Context) ([]byte, error) {
		return nil, m.opts.Radio.Connect(stepCtx, m.opts.Handle, m.opts.Device.Address)
	})
	if err != nil {
		_ = m.opts.Radio.Disconnect(m.opts.Handle, m.opts.Device.Address)
		return m.fail(ctx, err, "connect")
	}
	defer func() {
		if err := m.opts.Radio.Disconnect(m.opts.Handle, m.opts.Device.Address); err != nil {
			m.log.WithError(err).Debug("Disconnect failed")
		}
	}()
	m.transition(domain.StateAdvertised)

	session, err := newSession(m.opts.Rand)
	if err != nil {
		return m.to(domain.StateTransportError, nil, err)
	}
	att.SessionID = session.ID
	m.log = m.log.WithField("session", session.ID)

	m.transition(domain.StateKeyExchangeSent)
	resp, err := m.send(ctx, keyExchangeFrame(m.opts.Profile, session))
	if err != nil {
		return m.fail(ctx, err, "key exchange")
	}
	switch {
	case matches(m.opts.Profile.Reject, resp):
		return m.to(domain.StateRejected, nil, errors.New("key exchange rejected"))
	case matches(m.opts.Profile.Ack, resp):
		m.transition(domain.StateKeyExchangeAcked)
	default:
		return m.to(domain.StateProtocolError, resp, fmt.Errorf("unrecognised key exchange response (%d bytes)", len(resp)))
	}

	if m.opts.Procedures == nil {
		return m.to(domain.StateProtocolError, nil, domain.ErrNoProcedure)
	}
	proc, err := m.opts.Procedures.Resolve(m.opts.Device)
	if err != nil {
		return m.to(domain.StateProtocolError, nil, err)
	}
	frame, err := proc.Build(session, m.opts.Device)
	if err != nil {
		return m.to(domain.StateProtocolError, nil, fmt.Errorf("procedure %s: %w", proc.ID(), err))
	}

	m.transition(domain.StateMalformedFrameSent)
	m.log.WithFields(logrus.Fields{"procedure": proc.ID(), "frame_len": len(frame)}).Debug("Trigger frame built")
	resp, err = m.send(ctx, frame)
	if err != nil {
		return m.fail(ctx, err, "trigger")
	}
	switch {
	case matches(m.opts.Profile.Reject, resp):
		return m.to(domain.StateRejected, nil, errors.New("trigger frame rejected"))
	case matches(m.opts.Profile.Triggered, resp):
		return m.to(domain.StateConditionTriggered, resp, nil)
	default:
		return m.to(domain.StateProtocolError, resp, fmt.Errorf("unrecognised trigger response (%d bytes)", len(resp)))
	}
}

func (m *Machine) send(ctx context.Context, frame []byte) ([]byte, error) {
	return m.within(ctx, func(stepCtx context.Context) ([]byte, error) {
		return m.opts.Radio.Send(stepCtx, m.opts.Handle, m.opts.Device.Address, frame)
	})
}

type stepResult struct {
	resp []byte
	err  error
}

// within runs fn bounded by the step timeout. The deadline holds even if fn
// ignores its context; fn then finishes in the background.
func (m *Machine) within(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, m.opts.StepTimeout)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		resp, err := fn(stepCtx)
		done <- stepResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && stepCtx.Err() != nil {
			return nil, stepCtx.Err()
		}
		return r.resp, r.err
	case <-stepCtx.Done():
		return nil, stepCtx.Err()
	}
}

// fail maps an I/O error to a terminal state. Caller cancellation is a
// transport error; any deadline is a timeout.
func (m *Machine) fail(ctx context.Context, err error, step string) (domain.State, []byte, error) {
	wrapped := fmt.Errorf("%s: %w", step, err)
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return m.to(domain.StateTransportError, nil, wrapped)
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		return m.to(domain.StateTimeout, nil, wrapped)
	}
	return m.to(domain.StateTransportError, nil, wrapped)
}

func (m *Machine) to(s domain.State, detail []byte, err error) (domain.State, []byte, error) {
	m.transition(s)
	return s, detail, err
}

func (m *Machine) transition(to domain.State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.history = append(m.history, Transition{From: from, To: to, At: time.Now()})
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"from": from.String(), "state": to.String()}).Debug("Handshake transition")
}

func matches(sigs []domain.Signature, resp []byte) bool {
	_, ok := domain.MatchAny(sigs, resp)
	return ok
}
