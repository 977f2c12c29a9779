package yamlconfig

import (
	"fmt"
	"os"

	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/radio/sim"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config and merges it over the defaults. An empty
// path yields the defaults.
func LoadConfig(path string) (domain.Config, error) {
	defaults := domain.DefaultConfig()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, err
	}

	var user domain.Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return domain.Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := user.Merge(defaults)
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFixture reads the peer population of the simulated radio.
func LoadFixture(path string) (*sim.Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fx sim.Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	for i, p := range fx.Peers {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid peer %d: %w", i, err)
		}
	}
	return &fx, nil
}
