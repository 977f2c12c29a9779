// Package engine wires the scanner, classifier, registry and dispatcher
// around one opened radio.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"bytemomo/whisper/internal/classifier"
	"bytemomo/whisper/internal/dispatcher"
	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/procedure"
	"bytemomo/whisper/internal/registry"
	"bytemomo/whisper/internal/scanner"

	"github.com/sirupsen/logrus"
)

// Engine holds the radio handle and the registry of the last scan. Build it
// with Open and release it with Close.
type Engine struct {
	log    *logrus.Entry
	cfg    domain.Config
	radio  domain.Radio
	handle domain.Handle

	scanner    *scanner.Scanner
	classifier *classifier.Classifier
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	procedures *procedure.Registry

	trace domain.TraceSink
	rand  io.Reader

	closeOnce sync.Once
	closeErr  error
}

// Option customises Open.
type Option func(*Engine)

// WithTrace sends every received advertisement to sink.
func WithTrace(sink domain.TraceSink) Option {
	return func(e *Engine) { e.trace = sink }
}

// WithRand replaces crypto/rand as the source of session material.
func WithRand(r io.Reader) Option {
	return func(e *Engine) { e.rand = r }
}

// WithProcedures replaces the procedure registry built from configuration.
func WithProcedures(r *procedure.Registry) Option {
	return func(e *Engine) { e.procedures = r }
}

// Open claims the radio and builds the engine. It fails with
// ErrCapabilityUnavailable when the radio cannot be opened.
func Open(ctx context.Context, log *logrus.Entry, cfg domain.Config, radio domain.Radio, opts ...Option) (*Engine, error) {
	if radio == nil {
		return nil, domain.Unavailable("engine open", errors.New("no radio configured"))
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	profile := domain.DefaultProfile()
	if cfg.Profile != nil {
		profile = *cfg.Profile
	}

	e := &Engine{
		log:        log,
		cfg:        cfg,
		radio:      radio,
		classifier: classifier.New(cfg.Scan.ServiceUUID, cfg.Classifier),
		registry:   registry.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.procedures == nil {
		procs, err := procedure.FromConfig(cfg.Procedures, profile)
		if err != nil {
			return nil, fmt.Errorf("procedures: %w", err)
		}
		e.procedures = procs
	}

	h, err := radio.Open(ctx)
	if err != nil {
		return nil, domain.Unavailable("engine open", err)
	}
	e.handle = h

	e.scanner = scanner.New(log.WithField("component", "scanner"), radio, h, e.trace)
	e.dispatcher = &dispatcher.Dispatcher{
		Log:        log.WithField("component", "dispatcher"),
		Radio:      radio,
		Handle:     h,
		Profile:    profile,
		Procedures: e.procedures,
		Config:     cfg.Dispatch,
		Rand:       e.rand,
	}

	log.WithFields(logrus.Fields{
		"handle":     h,
		"procedures": e.procedures.IDs(),
	}).Debug("Radio opened")
	return e, nil
}

// ScanDevices scans for d, classifies what was heard and replaces the
// registry with the result.
func (e *Engine) ScanDevices(ctx context.Context, d time.Duration) ([]domain.Device, error) {
	records, err := e.scanner.Scan(ctx, d)
	if err != nil {
		return nil, err
	}

	devices := e.classifier.Coalesce(records)
	e.registry.Record(devices)

	e.log.WithFields(logrus.Fields{
		"duration": d,
		"records":  len(records),
		"devices":  len(devices),
	}).Info("Scan complete")
	return e.registry.All(), nil
}

// Devices returns the registry snapshot of the last scan.
func (e *Engine) Devices() []domain.Device {
	return e.registry.All()
}

// Lookup finds a device of the last scan.
func (e *Engine) Lookup(addr net.HardwareAddr) (domain.Device, bool) {
	return e.registry.Lookup(addr)
}

// ExploitDevice runs the handshake against one peer. Peers not in the
// registry are attempted with status unknown.
func (e *Engine) ExploitDevice(ctx context.Context, addr net.HardwareAddr, name string) (domain.Result, error) {
	target, ok := e.registry.Lookup(addr)
	if !ok {
		target = domain.Device{Address: addr, Name: name, Status: domain.StatusUnknown}
	} else if target.Name == "" {
		target.Name = name
	}

	results, err := e.dispatcher.Dispatch(ctx, []domain.Device{target})
	if err != nil {
		return domain.Result{}, err
	}
	return results[0], nil
}

// ExploitAll attempts every device of the last scan, in discovery order.
func (e *Engine) ExploitAll(ctx context.Context) ([]domain.Result, error) {
	return e.dispatcher.Dispatch(ctx, e.registry.All())
}

// Close releases the radio handle.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.radio.Close(e.handle)
	})
	return e.closeErr
}
