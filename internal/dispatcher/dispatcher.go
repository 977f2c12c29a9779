// Package dispatcher runs handshake attempts against many targets at once.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/handshake"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var errCancelled = errors.New("dispatch cancelled before the target resolved")

// Dispatcher fans attempts out over a bounded number of workers and collects
// one result per target in input order.
type Dispatcher struct {
	Log        *logrus.Entry
	Radio      domain.Radio
	Handle     domain.Handle
	Profile    domain.Profile
	Procedures handshake.Resolver
	Config     domain.DispatchConfig

	// Rand seeds session material and must be safe for concurrent use. Nil
	// uses crypto/rand.
	Rand io.Reader
}

// Dispatch attempts every target. The only call-level error is a missing
// radio; every per-target failure is carried in that target's result.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []domain.Device) ([]domain.Result, error) {
	if d.Radio == nil || d.Handle == "" {
		return nil, domain.Unavailable("dispatch", errors.New("radio not open"))
	}

	results := make([]domain.Result, len(targets))
	for i, t := range targets {
		results[i] = domain.Result{Device: t}
	}
	if len(targets) == 0 {
		return results, nil
	}

	limit := int64(d.Config.MaxParallelTargets)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	var (
		mu       sync.Mutex
		resolved = make([]bool, len(targets))
		sealed   bool
		wg       sync.WaitGroup
	)
	store := func(i int, r domain.Result) {
		mu.Lock()
		defer mu.Unlock()
		if sealed {
			return
		}
		results[i] = r
		resolved[i] = true
	}

	d.Log.WithFields(logrus.Fields{"targets": len(targets), "parallel": limit}).Info("Dispatching exploit attempts")

	for i, t := range targets {
		wg.Add(1)
		go func(i int, t domain.Device) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				store(i, cancelled(t, err))
				return
			}
			defer sem.Release(1)
			store(i, d.runTarget(ctx, t))
		}(i, t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		grace := time.NewTimer(d.Config.GracePeriod)
		select {
		case <-done:
		case <-grace.C:
			d.Log.WithField("grace", d.Config.GracePeriod).Warn("Abandoning in-flight attempts after cancellation")
		}
		grace.Stop()
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	out := make([]domain.Result, len(results))
	for i := range results {
		if !resolved[i] {
			results[i] = cancelled(targets[i], ctx.Err())
		}
		out[i] = results[i]
	}
	return out, nil
}

// runTarget runs attempts against one target until an outcome is final or
// the retry budget is spent.
func (d *Dispatcher) runTarget(ctx context.Context, t domain.Device) domain.Result {
	log := d.Log.WithField("address", t.Address.String())
	res := domain.Result{Device: t}

	retries := d.Config.Retry.Retries()
	var bo backoff.BackOff
	if retries > 0 {
		exp := backoff.NewExponentialBackOff()
		if d.Config.Retry.InitialBackoff > 0 {
			exp.InitialInterval = d.Config.Retry.InitialBackoff
		}
		if d.Config.Retry.MaxBackoff > 0 {
			exp.MaxInterval = d.Config.Retry.MaxBackoff
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		bo = backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
	}

	for {
		att := d.attempt(ctx, t)
		res.Fold(att)

		entry := log.WithFields(logrus.Fields{
			"attempt": res.Attempts,
			"outcome": att.Outcome.String(),
			"state":   att.FinalState.String(),
			"session": att.SessionID,
		})
		if att.Err != nil {
			entry = entry.WithError(att.Err)
		}
		entry.Info("Exploit attempt finished")

		if bo == nil || !d.Config.Retry.Retryable(att.Outcome) || ctx.Err() != nil {
			return res
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return res
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, t domain.Device) domain.Attempt {
	attemptCtx := ctx
	if d.Config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.Config.AttemptTimeout)
		defer cancel()
	}

	m := handshake.NewMachine(handshake.Options{
		Log:         d.Log,
		Radio:       d.Radio,
		Handle:      d.Handle,
		Device:      t,
		Profile:     d.Profile,
		Procedures:  d.Procedures,
		StepTimeout: d.Config.StepTimeout,
		Rand:        d.Rand,
	})
	att, err := m.Run(attemptCtx)
	if err != nil {
		return domain.Attempt{
			TargetAddress: t.Address.String(),
			StartTime:     time.Now(),
			Outcome:       domain.OutcomeTransportError,
			FinalState:    domain.StateTransportError,
			Err:           err,
		}
	}
	return att
}

func cancelled(t domain.Device, cause error) domain.Result {
	err := errCancelled
	if cause != nil {
		err = domain.E("dispatch", errCancelled.Error(), cause)
	}
	return domain.Result{
		Device:  t,
		Outcome: domain.OutcomeTransportError,
		Error:   err.Error(),
	}
}
