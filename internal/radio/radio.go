// Package radio builds the configured domain.Radio implementation.
package radio

import (
	"fmt"

	"bytemomo/whisper/internal/adapter/yamlconfig"
	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/radio/bridge"
	"bytemomo/whisper/internal/radio/sim"

	"github.com/sirupsen/logrus"
)

// New returns the radio selected by cfg and a func releasing its resources.
func New(log *logrus.Entry, cfg domain.RadioConfig) (domain.Radio, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case "", domain.RadioSim:
		fx := &sim.Fixture{}
		if cfg.Fixture != "" {
			var err error
			fx, err = yamlconfig.LoadFixture(cfg.Fixture)
			if err != nil {
				return nil, nil, fmt.Errorf("fixture %s: %w", cfg.Fixture, err)
			}
		}
		r, err := sim.New(*fx)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(logrus.Fields{"fixture": cfg.Fixture, "peers": len(fx.Peers)}).Debug("Using simulated radio")
		return r, noop, nil

	case domain.RadioBridge:
		c, err := bridge.Dial(log.WithField("component", "bridge"), cfg.Bridge, cfg.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("bridge", cfg.Bridge).Debug("Using radio bridge")
		return c, c.Shutdown, nil
	}
	return nil, nil, fmt.Errorf("unknown radio kind %q", cfg.Kind)
}
