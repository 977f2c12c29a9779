package domain

import (
	"fmt"
	"strings"
	"time"
)

// FastPairServiceUUID is the 16-bit service UUID carried in pairing advertisements.
const FastPairServiceUUID uint16 = 0xFE2C

// Config is the engine configuration as loaded from YAML.
type Config struct {
	Log        LogConfig        `yaml:"log,omitempty"`
	Scan       ScanConfig       `yaml:"scan,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	Dispatch   DispatchConfig   `yaml:"dispatch,omitempty"`
	Profile    *Profile         `yaml:"profile,omitempty"`
	Procedures ProceduresConfig `yaml:"procedures,omitempty"`
	Trace      TraceConfig      `yaml:"trace,omitempty"`
	Radio      RadioConfig      `yaml:"radio,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
	File   string `yaml:"file,omitempty"`
}

type ScanConfig struct {
	Duration    time.Duration `yaml:"duration,omitempty"`
	ServiceUUID uint16        `yaml:"service_uuid,omitempty"`
}

type ClassifierConfig struct {
	VulnerableModels []string `yaml:"vulnerable_models,omitempty"`
	PatchedModels    []string `yaml:"patched_models,omitempty"`

	// Unlisted is the status of well-formed advertisements whose model is in
	// neither list. Default: vulnerable (advisory until confirmed).
	Unlisted *VulnStatus `yaml:"unlisted,omitempty"`
}

type DispatchConfig struct {
	// MaxParallelTargets bounds concurrent handshakes on the radio.
	// Default: 4
	MaxParallelTargets int `yaml:"max_parallel_targets,omitempty"`

	// StepTimeout bounds each wait for a peer response.
	// Default: 5s
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`

	// AttemptTimeout bounds one complete handshake attempt.
	// Default: 30s
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`

	// GracePeriod bounds how long in-flight handshakes are awaited after
	// cancellation. Default: 2s
	GracePeriod time.Duration `yaml:"grace_period,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty"`
}

type RetryConfig struct {
	// MaxRetries is the number of extra attempts per target.
	// Default: 1
	MaxRetries     *int          `yaml:"max_retries,omitempty"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	// On lists retryable outcomes. Rejected and protocol errors are ignored here.
	On []Outcome `yaml:"on,omitempty"`
}

// Retries returns the configured retry budget.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil || *r.MaxRetries < 0 {
		return 0
	}
	return *r.MaxRetries
}

// Retryable reports whether o may be retried under this policy.
func (r RetryConfig) Retryable(o Outcome) bool {
	switch o {
	case OutcomeSuccess, OutcomeRejected, OutcomeProtocolError:
		return false
	case OutcomeTimeout, OutcomeTransportError:
		for _, on := range r.On {
			if on == o {
				return true
			}
		}
		return false
	}
	return false
}

// TemplateConfig is a hex frame template. {{nonce}}, {{pubkey}}, {{session}}
// and {{address}} are replaced with attempt material before decoding.
type TemplateConfig struct {
	ID    string `yaml:"id"`
	Frame string `yaml:"frame"`
}

type ProceduresConfig struct {
	Default       string            `yaml:"default,omitempty"`
	ByFingerprint map[string]string `yaml:"by_fingerprint,omitempty"`
	Templates     []TemplateConfig  `yaml:"templates,omitempty"`
}

type TraceConfig struct {
	PCAP string `yaml:"pcap,omitempty"`
}

// RadioKind selects the radio implementation.
type RadioKind string

const (
	RadioSim    RadioKind = "sim"
	RadioBridge RadioKind = "bridge"
)

type RadioConfig struct {
	Kind        RadioKind     `yaml:"kind,omitempty"`
	Fixture     string        `yaml:"fixture,omitempty"`
	Bridge      string        `yaml:"bridge,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	retries := 1
	unlisted := StatusVulnerable
	profile := DefaultProfile()
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Scan: ScanConfig{
			Duration:    20 * time.Second,
			ServiceUUID: FastPairServiceUUID,
		},
		Classifier: ClassifierConfig{Unlisted: &unlisted},
		Dispatch: DispatchConfig{
			MaxParallelTargets: 4,
			StepTimeout:        5 * time.Second,
			AttemptTimeout:     30 * time.Second,
			GracePeriod:        2 * time.Second,
			Retry: RetryConfig{
				MaxRetries:     &retries,
				InitialBackoff: 250 * time.Millisecond,
				MaxBackoff:     2 * time.Second,
				On:             []Outcome{OutcomeTimeout, OutcomeTransportError},
			},
		},
		Profile:    &profile,
		Procedures: ProceduresConfig{Default: "length-overflow"},
		Radio: RadioConfig{
			Kind:        RadioSim,
			DialTimeout: 5 * time.Second,
		},
	}
}

// Merge combines this config with defaults, preferring explicit values.
func (c *Config) Merge(defaults Config) Config {
	result := defaults

	if c.Log.Level != "" {
		result.Log.Level = c.Log.Level
	}
	if c.Log.Format != "" {
		result.Log.Format = c.Log.Format
	}
	if c.Log.File != "" {
		result.Log.File = c.Log.File
	}

	if c.Scan.Duration > 0 {
		result.Scan.Duration = c.Scan.Duration
	}
	if c.Scan.ServiceUUID != 0 {
		result.Scan.ServiceUUID = c.Scan.ServiceUUID
	}

	if len(c.Classifier.VulnerableModels) > 0 {
		result.Classifier.VulnerableModels = c.Classifier.VulnerableModels
	}
	if len(c.Classifier.PatchedModels) > 0 {
		result.Classifier.PatchedModels = c.Classifier.PatchedModels
	}
	if c.Classifier.Unlisted != nil {
		result.Classifier.Unlisted = c.Classifier.Unlisted
	}

	d := c.Dispatch
	if d.MaxParallelTargets > 0 {
		result.Dispatch.MaxParallelTargets = d.MaxParallelTargets
	}
	if d.StepTimeout > 0 {
		result.Dispatch.StepTimeout = d.StepTimeout
	}
	if d.AttemptTimeout > 0 {
		result.Dispatch.AttemptTimeout = d.AttemptTimeout
	}
	if d.GracePeriod > 0 {
		result.Dispatch.GracePeriod = d.GracePeriod
	}
	if d.Retry.MaxRetries != nil {
		result.Dispatch.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if d.Retry.InitialBackoff > 0 {
		result.Dispatch.Retry.InitialBackoff = d.Retry.InitialBackoff
	}
	if d.Retry.MaxBackoff > 0 {
		result.Dispatch.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
	if d.Retry.On != nil {
		result.Dispatch.Retry.On = d.Retry.On
	}

	if c.Profile != nil {
		result.Profile = c.Profile
	}

	if c.Procedures.Default != "" {
		result.Procedures.Default = c.Procedures.Default
	}
	if len(c.Procedures.ByFingerprint) > 0 {
		result.Procedures.ByFingerprint = c.Procedures.ByFingerprint
	}
	if len(c.Procedures.Templates) > 0 {
		result.Procedures.Templates = c.Procedures.Templates
	}

	if c.Trace.PCAP != "" {
		result.Trace.PCAP = c.Trace.PCAP
	}

	if c.Radio.Kind != "" {
		result.Radio.Kind = c.Radio.Kind
	}
	if c.Radio.Fixture != "" {
		result.Radio.Fixture = c.Radio.Fixture
	}
	if c.Radio.Bridge != "" {
		result.Radio.Bridge = c.Radio.Bridge
	}
	if c.Radio.DialTimeout > 0 {
		result.Radio.DialTimeout = c.Radio.DialTimeout
	}

	return result
}

// Validate checks a merged configuration.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported format %q", c.Log.Format)
	}
	if c.Scan.Duration < 0 {
		return fmt.Errorf("scan.duration must not be negative")
	}
	if c.Dispatch.MaxParallelTargets < 1 {
		return fmt.Errorf("dispatch.max_parallel_targets must be at least 1")
	}
	if c.Dispatch.StepTimeout <= 0 {
		return fmt.Errorf("dispatch.step_timeout must be positive")
	}
	if c.Dispatch.AttemptTimeout > 0 && c.Dispatch.AttemptTimeout < c.Dispatch.StepTimeout {
		return fmt.Errorf("dispatch.attempt_timeout (%s) is shorter than step_timeout (%s)",
			c.Dispatch.AttemptTimeout, c.Dispatch.StepTimeout)
	}
	if c.Profile == nil {
		return fmt.Errorf("profile is required")
	}
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	for i, t := range c.Procedures.Templates {
		if t.ID == "" {
			return fmt.Errorf("procedures.templates[%d]: id is required", i)
		}
		if strings.TrimSpace(t.Frame) == "" {
			return fmt.Errorf("procedures.templates[%d] (%s): frame is empty", i, t.ID)
		}
	}
	switch c.Radio.Kind {
	case RadioSim:
	case RadioBridge:
		if c.Radio.Bridge == "" {
			return fmt.Errorf("radio.bridge is required for the bridge radio")
		}
	default:
		return fmt.Errorf("radio.kind: unknown radio %q", c.Radio.Kind)
	}
	return nil
}
