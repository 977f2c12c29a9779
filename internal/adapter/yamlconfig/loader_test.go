package yamlconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bytemomo/whisper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig().Scan, cfg.Scan)
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	path := writeFile(t, "whisper.yaml", `
scan:
  duration: 5s
dispatch:
  max_parallel_targets: 2
  retry:
    max_retries: 0
classifier:
  patched_models: ["0x0A0B0C"]
radio:
  kind: bridge
  bridge: 127.0.0.1:7300
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Scan.Duration)
	assert.Equal(t, domain.FastPairServiceUUID, cfg.Scan.ServiceUUID)
	assert.Equal(t, 2, cfg.Dispatch.MaxParallelTargets)
	assert.Equal(t, 0, cfg.Dispatch.Retry.Retries())
	assert.Equal(t, 5*time.Second, cfg.Dispatch.StepTimeout)
	assert.Equal(t, domain.RadioBridge, cfg.Radio.Kind)
	require.NotNil(t, cfg.Profile)
	assert.Equal(t, domain.HexBytes{0x00}, cfg.Profile.KeyExchangeHeader)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "scan: [unterminated"},
		{name: "invalid value", content: "dispatch:\n  step_timeout: 10s\n  attempt_timeout: 1s\n"},
		{name: "bridge without address", content: "radio:\n  kind: bridge\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "whisper.yaml", tc.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFixture(t *testing.T) {
	path := writeFile(t, "peers.yaml", `
peers:
  - address: AA:BB:CC:00:00:01
    name: buds
    rssi: -50
    advertisement: "02 01 06 06 16 2c fe 0a 0b 0c"
    interval: 50ms
    replies:
      - respond: "01"
      - respond: "7f"
        delay: 10ms
  - address: aa:bb:cc:00:00:02
    unreachable: true
`)

	fx, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, fx.Peers, 2)

	p := fx.Peers[0]
	assert.Equal(t, "buds", p.Name)
	assert.Equal(t, -50, p.RSSI)
	assert.Equal(t, domain.HexBytes{0x02, 0x01, 0x06, 0x06, 0x16, 0x2c, 0xfe, 0x0a, 0x0b, 0x0c}, p.Advertisement)
	assert.Equal(t, 50*time.Millisecond, p.Interval)
	require.Len(t, p.Replies, 2)
	assert.Equal(t, 10*time.Millisecond, p.Replies[1].Delay)
	assert.True(t, fx.Peers[1].Unreachable)
}

func TestLoadFixture_InvalidPeer(t *testing.T) {
	_, err := LoadFixture(writeFile(t, "peers.yaml", "peers:\n  - address: not-an-address\n"))
	assert.Error(t, err)
}
