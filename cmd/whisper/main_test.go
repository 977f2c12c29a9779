package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/engine"
	"bytemomo/whisper/internal/radio/sim"
	"bytemomo/whisper/internal/testutil"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T) *session {
	t.Helper()
	color.NoColor = true
	radio, err := sim.New(sim.Fixture{Peers: []sim.Peer{{
		Address:       "aa:bb:cc:00:00:01",
		Name:          "buds",
		Advertisement: domain.HexBytes{0x02, 0x01, 0x06, 0x06, 0x16, 0x2c, 0xfe, 0x0a, 0x0b, 0x0c},
		Interval:      10 * time.Millisecond,
		Replies:       []sim.Reply{{Respond: domain.HexBytes{0x01}}, {Respond: domain.HexBytes{0x7f, 0x01}}},
	}}})
	require.NoError(t, err)

	cfg := domain.DefaultConfig()
	cfg.Scan.Duration = 50 * time.Millisecond
	cfg.Dispatch.StepTimeout = 100 * time.Millisecond
	log := testutil.Logger()

	e, err := engine.Open(context.Background(), log, cfg, radio)
	require.NoError(t, err)
	s := &session{cfg: cfg, log: log, engine: e}
	t.Cleanup(s.Close)
	return s
}

func TestRunMenu(t *testing.T) {
	s := testSession(t)
	in := strings.NewReader("2\n3\n1\n2\n3\n7\n3\n1\n4\nbogus\n0\n")
	var out bytes.Buffer

	require.NoError(t, runMenu(context.Background(), s, in, &out))

	text := out.String()
	assert.Contains(t, text, "No devices.")
	assert.Contains(t, text, "Nothing to target; scan first.")
	assert.Contains(t, text, "[1] buds - aa:bb:cc:00:00:01 (vulnerable)")
	assert.Contains(t, text, `Invalid index "7"`)
	assert.Equal(t, 2, strings.Count(text, "Access Granted: 7f01"))
	assert.Contains(t, text, `Unknown command "bogus"`)
}

func TestRunMenu_EOF(t *testing.T) {
	s := testSession(t)
	assert.NoError(t, runMenu(context.Background(), s, strings.NewReader(""), &bytes.Buffer{}))
}

func TestPrintResults_JSON(t *testing.T) {
	results := []domain.Result{
		{
			Device:        domain.Device{Address: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}, Status: domain.StatusConfirmed},
			Outcome:       domain.OutcomeSuccess,
			ExploitResult: []byte{0x7f},
			Attempts:      1,
		},
		{
			Device:   domain.Device{Address: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 2}},
			Outcome:  domain.OutcomeTimeout,
			Attempts: 2,
			Error:    "key exchange: context deadline exceeded",
		},
	}

	var out bytes.Buffer
	require.NoError(t, printResults(&out, results, true))

	var views []resultView
	require.NoError(t, json.Unmarshal(out.Bytes(), &views))
	require.Len(t, views, 2)
	assert.True(t, views[0].Success)
	assert.Equal(t, "7f", views[0].ExploitResult)
	assert.Equal(t, "success", views[0].OutcomeKind)
	assert.Equal(t, "confirmed", views[0].Status)
	assert.False(t, views[1].Success)
	assert.Equal(t, "timeout", views[1].OutcomeKind)
	assert.NotEmpty(t, views[1].Error)
}

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printDevices(&out, nil, false))
	assert.Contains(t, out.String(), "No devices found.")

	out.Reset()
	devices := []domain.Device{{Address: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}, Name: "buds", Status: domain.StatusVulnerable, ModelID: "0a0b0c"}}
	require.NoError(t, printDevices(&out, devices, false))
	assert.Contains(t, out.String(), "aa:bb:cc:00:00:01")
	assert.Contains(t, out.String(), "0a0b0c")

	out.Reset()
	require.NoError(t, printDevices(&out, devices, true))
	assert.Contains(t, out.String(), `"aa:bb:cc:00:00:01"`)
}
