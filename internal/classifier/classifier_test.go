package classifier

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"bytemomo/whisper/internal/domain"
)

var (
	flagsAD        = []byte{0x02, 0x01, 0x06}
	modelAD        = []byte{0x06, 0x16, 0x2C, 0xFE, 0x0A, 0x0B, 0x0C}
	accountKeyAD   = []byte{0x08, 0x16, 0x2C, 0xFE, 0x00, 0x30, 0x11, 0x22, 0x33}
	truncFieldAD   = []byte{0x06, 0x16, 0x2C, 0xFE, 0x00, 0x50, 0x11}
	shortHeaderAD  = []byte{0x06, 0x16, 0x2C, 0xFE, 0x00, 0x10, 0x11}
	versionOneAD   = []byte{0x04, 0x16, 0x2C, 0xFE, 0x20}
	truncADPayload = []byte{0x05, 0x16, 0x2C}
	nameAD         = []byte{0x05, 0x09, 'b', 'u', 'd', 's'}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func addr(last byte) net.HardwareAddr {
	return net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, last}
}

func TestClassify(t *testing.T) {
	c := New(domain.FastPairServiceUUID, domain.ClassifierConfig{})

	tests := []struct {
		name       string
		payload    []byte
		wantStatus domain.VulnStatus
		wantModel  string
		wantMode   domain.AdvertisingMode
		wantFinger string
	}{
		{name: "discoverable model", payload: concat(flagsAD, modelAD), wantStatus: domain.StatusVulnerable, wantModel: "0a0b0c", wantMode: domain.ModeDiscoverable, wantFinger: "fastpair/v0"},
		{name: "account key filter", payload: concat(flagsAD, accountKeyAD), wantStatus: domain.StatusVulnerable, wantMode: domain.ModeNotDiscoverable, wantFinger: "fastpair/v0"},
		{name: "no pairing service", payload: flagsAD, wantStatus: domain.StatusNotVulnerable},
		{name: "truncated field", payload: concat(flagsAD, truncFieldAD), wantStatus: domain.StatusUnknown},
		{name: "three byte header frame", payload: concat(flagsAD, shortHeaderAD), wantStatus: domain.StatusVulnerable, wantMode: domain.ModeNotDiscoverable, wantFinger: "fastpair/v0"},
		{name: "unsupported version", payload: versionOneAD, wantStatus: domain.StatusUnknown, wantFinger: "fastpair/v1"},
		{name: "truncated ad structure", payload: concat(flagsAD, truncADPayload), wantStatus: domain.StatusUnknown},
		{name: "empty payload", payload: nil, wantStatus: domain.StatusNotVulnerable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := c.Classify(domain.RawPeerRecord{Address: addr(1), Payload: tc.payload})
			if d.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s", d.Status, tc.wantStatus)
			}
			if d.ModelID != tc.wantModel {
				t.Errorf("model = %q, want %q", d.ModelID, tc.wantModel)
			}
			if d.Mode != tc.wantMode {
				t.Errorf("mode = %q, want %q", d.Mode, tc.wantMode)
			}
			if d.Fingerprint != tc.wantFinger {
				t.Errorf("fingerprint = %q, want %q", d.Fingerprint, tc.wantFinger)
			}
		})
	}
}

func TestClassify_ModelLists(t *testing.T) {
	unknown := domain.StatusUnknown
	c := New(0, domain.ClassifierConfig{
		PatchedModels:    []string{"0x0A0B0C"},
		VulnerableModels: []string{"11:22:33"},
		Unlisted:         &unknown,
	})

	d := c.Classify(domain.RawPeerRecord{Address: addr(1), Payload: modelAD})
	if d.Status != domain.StatusNotVulnerable {
		t.Errorf("patched model should be not-vulnerable, got %s", d.Status)
	}

	vuln := []byte{0x06, 0x16, 0x2C, 0xFE, 0x11, 0x22, 0x33}
	d = c.Classify(domain.RawPeerRecord{Address: addr(2), Payload: vuln})
	if d.Status != domain.StatusVulnerable {
		t.Errorf("listed model should be vulnerable, got %s", d.Status)
	}

	d = c.Classify(domain.RawPeerRecord{Address: addr(3), Payload: accountKeyAD})
	if d.Status != domain.StatusUnknown {
		t.Errorf("unlisted frame should take the configured status, got %s", d.Status)
	}
}

func TestClassify_NeverConfirms(t *testing.T) {
	confirmed := domain.StatusConfirmed
	c := New(0, domain.ClassifierConfig{Unlisted: &confirmed})

	d := c.Classify(domain.RawPeerRecord{Address: addr(1), Payload: modelAD})
	if d.Status == domain.StatusConfirmed {
		t.Fatal("classification must not produce confirmed")
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := New(0, domain.ClassifierConfig{})
	payloads := [][]byte{modelAD, accountKeyAD, truncFieldAD, versionOneAD, truncADPayload, flagsAD, nil, {0xff}}

	for _, p := range payloads {
		rec := domain.RawPeerRecord{Address: addr(1), Payload: p}
		first := c.Classify(rec)
		second := c.Classify(rec)
		if first.Status != second.Status {
			t.Errorf("payload %x classified %s then %s", p, first.Status, second.Status)
		}
	}
}

func TestClassify_NameFallback(t *testing.T) {
	c := New(0, domain.ClassifierConfig{})

	d := c.Classify(domain.RawPeerRecord{Address: addr(1), Payload: concat(nameAD, modelAD)})
	if d.Name != "buds" {
		t.Errorf("expected advertised name, got %q", d.Name)
	}

	d = c.Classify(domain.RawPeerRecord{Address: addr(1), Name: "Left Bud", Payload: concat(nameAD, modelAD)})
	if d.Name != "Left Bud" {
		t.Errorf("record name should win, got %q", d.Name)
	}
}

func TestCoalesce(t *testing.T) {
	c := New(0, domain.ClassifierConfig{})
	t0 := time.Now()

	records := []domain.RawPeerRecord{
		{Address: addr(1), Name: "one", Payload: modelAD, SeenAt: t0},
		{Address: addr(2), Payload: flagsAD, SeenAt: t0.Add(time.Millisecond)},
		// truncated re-observation must not downgrade the earlier classification
		{Address: addr(1), RSSI: -40, Payload: truncADPayload, SeenAt: t0.Add(2 * time.Millisecond)},
		{Address: addr(3), Payload: truncADPayload, SeenAt: t0.Add(3 * time.Millisecond)},
		// a later specific observation upgrades an unknown one
		{Address: addr(3), Payload: modelAD, SeenAt: t0.Add(4 * time.Millisecond)},
		{Address: nil, Payload: modelAD},
	}

	devices := c.Coalesce(records)
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}

	seen := map[string]bool{}
	for _, d := range devices {
		if seen[d.Key()] {
			t.Fatalf("duplicate address %s", d.Key())
		}
		seen[d.Key()] = true
	}

	first := devices[0]
	if first.Address.String() != addr(1).String() {
		t.Fatalf("discovery order not preserved: %s", first.Address)
	}
	if first.Status != domain.StatusVulnerable {
		t.Errorf("status should stay vulnerable, got %s", first.Status)
	}
	if first.RSSI != -40 {
		t.Errorf("latest fields should win, rssi=%d", first.RSSI)
	}
	if first.Name != "one" {
		t.Errorf("name should carry over, got %q", first.Name)
	}
	if !first.LastSeen.Equal(t0.Add(2 * time.Millisecond)) {
		t.Errorf("last seen not updated: %v", first.LastSeen)
	}

	if devices[2].Status != domain.StatusVulnerable {
		t.Errorf("unknown should be upgraded by a later observation, got %s", devices[2].Status)
	}
}

func TestParsePairingFrame_ThreeBytes(t *testing.T) {
	tests := []struct {
		name    string
		sd      []byte
		wantErr bool
		want    pairingFrame
	}{
		{name: "model id", sd: []byte{0x0a, 0x0b, 0x0c}, want: pairingFrame{ModelID: []byte{0x0a, 0x0b, 0x0c}, Discoverable: true}},
		{name: "high version bits are a model id", sd: []byte{0xe0, 0x50, 0x11}, want: pairingFrame{ModelID: []byte{0xe0, 0x50, 0x11}, Discoverable: true}},
		{name: "header with one byte field", sd: []byte{0x00, 0x10, 0x11}, want: pairingFrame{Fields: []byte{0x00}}},
		{name: "header with truncated field", sd: []byte{0x00, 0x50, 0x11}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := parsePairingFrame(tc.sd)
			if tc.wantErr {
				if !errors.Is(err, errTruncated) {
					t.Fatalf("expected truncation error, got %v (frame %+v)", err, f)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Discoverable != tc.want.Discoverable {
				t.Errorf("discoverable = %v, want %v", f.Discoverable, tc.want.Discoverable)
			}
			if !bytes.Equal(f.ModelID, tc.want.ModelID) {
				t.Errorf("model = %x, want %x", f.ModelID, tc.want.ModelID)
			}
			if !bytes.Equal(f.Fields, tc.want.Fields) {
				t.Errorf("fields = %x, want %x", f.Fields, tc.want.Fields)
			}
		})
	}
}
