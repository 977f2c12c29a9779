// Package scanner listens for pairing advertisements for a bounded time.
package scanner

import (
	"context"
	"errors"
	"time"

	"bytemomo/whisper/internal/domain"

	"github.com/sirupsen/logrus"
)

// Scanner owns the receive side of a radio handle. Only one Scan may run at a
// time.
type Scanner struct {
	Log    *logrus.Entry
	Radio  domain.Radio
	Handle domain.Handle
	Trace  domain.TraceSink

	busy chan struct{}
}

// New builds a scanner for an opened radio handle. trace may be nil.
func New(log *logrus.Entry, radio domain.Radio, h domain.Handle, trace domain.TraceSink) *Scanner {
	return &Scanner{
		Log:    log,
		Radio:  radio,
		Handle: h,
		Trace:  trace,
		busy:   make(chan struct{}, 1),
	}
}

// Scan collects raw advertisements for at most budget. Cancelling ctx ends the
// scan early; the records received so far are returned without error.
func (s *Scanner) Scan(ctx context.Context, budget time.Duration) ([]domain.RawPeerRecord, error) {
	if s.Radio == nil || s.Handle == "" {
		return nil, domain.Unavailable("scan", errors.New("radio not open"))
	}

	select {
	case s.busy <- struct{}{}:
		defer func() { <-s.busy }()
	default:
		return nil, domain.Unavailable("scan", errors.New("receive capability held"))
	}

	if budget <= 0 {
		return []domain.RawPeerRecord{}, nil
	}

	log := s.Log.WithField("budget", budget)
	listenCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	started := time.Now()
	records := []domain.RawPeerRecord{}

	stream, err := s.open(listenCtx, budget)
	if err != nil {
		if listenCtx.Err() != nil {
			s.finish(ctx, log, records, started)
			return records, nil
		}
		return nil, domain.Unavailable("scan", err)
	}

	for {
		select {
		case <-listenCtx.Done():
			s.finish(ctx, log, records, started)
			return records, nil
		case rec, ok := <-stream:
			if !ok {
				s.finish(ctx, log, records, started)
				return records, nil
			}
			if len(rec.Address) == 0 {
				continue
			}
			records = append(records, rec)
			if s.Trace != nil {
				if err := s.Trace.TraceAdvertisement(rec); err != nil {
					log.WithError(err).Warn("Trace write failed")
				}
			}
		}
	}
}

type opened struct {
	stream <-chan domain.RawPeerRecord
	err    error
}

// open starts the advertisement stream within the listening window. The
// window holds even if the radio ignores its context; a late stream is
// abandoned to the radio.
func (s *Scanner) open(ctx context.Context, budget time.Duration) (<-chan domain.RawPeerRecord, error) {
	done := make(chan opened, 1)
	go func() {
		stream, err := s.Radio.Advertisements(ctx, s.Handle, budget)
		done <- opened{stream: stream, err: err}
	}()

	select {
	case o := <-done:
		return o.stream, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scanner) finish(ctx context.Context, log *logrus.Entry, records []domain.RawPeerRecord, started time.Time) {
	fields := logrus.Fields{"records": len(records), "elapsed": time.Since(started).Round(time.Millisecond)}
	if ctx.Err() != nil {
		log.WithFields(fields).Info("Scan cancelled")
		return
	}
	log.WithFields(fields).Debug("Scan window closed")
}
