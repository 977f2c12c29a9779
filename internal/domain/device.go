package domain

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// VulnStatus classifies how susceptible a peer is to the pairing condition.
type VulnStatus uint8

const (
	StatusUnknown VulnStatus = iota
	StatusNotVulnerable
	StatusVulnerable
	StatusConfirmed
)

func (s VulnStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusNotVulnerable:
		return "not-vulnerable"
	case StatusVulnerable:
		return "vulnerable"
	case StatusConfirmed:
		return "confirmed"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Specificity orders statuses by how much evidence backs them.
// NotVulnerable and Vulnerable are equally specific.
func (s VulnStatus) Specificity() int {
	switch s {
	case StatusUnknown:
		return 0
	case StatusNotVulnerable, StatusVulnerable:
		return 1
	case StatusConfirmed:
		return 2
	}
	return 0
}

func (s VulnStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *VulnStatus) UnmarshalText(text []byte) error {
	v, err := ParseVulnStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseVulnStatus accepts the String form, case-insensitively.
func ParseVulnStatus(s string) (VulnStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown", "":
		return StatusUnknown, nil
	case "not-vulnerable", "not_vulnerable", "notvulnerable":
		return StatusNotVulnerable, nil
	case "vulnerable":
		return StatusVulnerable, nil
	case "confirmed":
		return StatusConfirmed, nil
	}
	return StatusUnknown, fmt.Errorf("unknown vulnerability status %q", s)
}

// AdvertisingMode is the pairing mode a peer announces.
type AdvertisingMode string

const (
	ModeDiscoverable    AdvertisingMode = "discoverable"
	ModeNotDiscoverable AdvertisingMode = "not-discoverable"
)

// RawPeerRecord is a single advertisement observation as delivered by the radio.
type RawPeerRecord struct {
	Address net.HardwareAddr
	Name    string
	RSSI    int
	Payload []byte
	SeenAt  time.Time
}

// Device is the classified view of a discovered peer.
type Device struct {
	Address     net.HardwareAddr `json:"address"`
	Name        string           `json:"name,omitempty"`
	Status      VulnStatus       `json:"vulnerability_status"`
	LastSeen    time.Time        `json:"last_seen"`
	RSSI        int              `json:"rssi"`
	ModelID     string           `json:"model_id,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Mode        AdvertisingMode  `json:"mode,omitempty"`
}

// MarshalJSON renders the address in its colon form.
func (d Device) MarshalJSON() ([]byte, error) {
	type alias Device
	return json.Marshal(struct {
		alias
		Address string `json:"address"`
	}{alias: alias(d), Address: d.Address.String()})
}

// Clone returns a copy of d that shares no memory with it.
func (d Device) Clone() Device {
	if d.Address != nil {
		d.Address = append(net.HardwareAddr(nil), d.Address...)
	}
	return d
}

// Key returns the registry key for the device address.
func (d Device) Key() string { return AddressKey(d.Address) }

// DisplayName falls back to the address when the peer advertised no name.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address.String()
}

// AddressKey is the canonical lower-case form of a link-layer address.
func AddressKey(addr net.HardwareAddr) string {
	return strings.ToLower(addr.String())
}

// ParseAddress parses a colon or dash separated link-layer address.
func ParseAddress(s string) (net.HardwareAddr, error) {
	addr, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}
	return addr, nil
}
