package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// HexBytes is a byte string written as hex in configuration files.
// Spaces, colons and a leading 0x are ignored.
type HexBytes []byte

// ParseHex decodes the relaxed hex notation accepted by HexBytes.
func ParseHex(s string) (HexBytes, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex %q: %w", s, err)
	}
	return b, nil
}

func (h HexBytes) String() string { return hex.EncodeToString(h) }

func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

func (h HexBytes) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// Signature matches a byte pattern at a fixed offset of a peer response.
type Signature struct {
	Name   string   `yaml:"name,omitempty"`
	Offset int      `yaml:"offset"`
	Match  HexBytes `yaml:"match"`
	Mask   HexBytes `yaml:"mask,omitempty"`
	MinLen int      `yaml:"min_len,omitempty"`
}

// Matches reports whether resp carries the signature.
func (s Signature) Matches(resp []byte) bool {
	if len(s.Match) == 0 || s.Offset < 0 {
		return false
	}
	if len(resp) < s.MinLen || len(resp) < s.Offset+len(s.Match) {
		return false
	}
	window := resp[s.Offset : s.Offset+len(s.Match)]
	if len(s.Mask) == 0 {
		return bytes.Equal(window, s.Match)
	}
	for i := range window {
		m := byte(0xff)
		if i < len(s.Mask) {
			m = s.Mask[i]
		}
		if window[i]&m != s.Match[i]&m {
			return false
		}
	}
	return true
}

// MatchAny returns the first signature in sigs that matches resp.
func MatchAny(sigs []Signature, resp []byte) (Signature, bool) {
	for _, s := range sigs {
		if s.Matches(resp) {
			return s, true
		}
	}
	return Signature{}, false
}

// Profile carries the byte-level handshake of the target protocol. The engine
// treats it as opaque input; nothing about the exchange is hard coded.
type Profile struct {
	KeyExchangeHeader HexBytes    `yaml:"key_exchange_header"`
	Ack               []Signature `yaml:"ack"`
	Reject            []Signature `yaml:"reject"`
	Triggered         []Signature `yaml:"triggered"`
}

// DefaultProfile speaks the framing used by the bundled simulator fixtures:
// one opcode byte followed by the body.
func DefaultProfile() Profile {
	return Profile{
		KeyExchangeHeader: HexBytes{0x00},
		Ack:               []Signature{{Name: "kx-ack", Offset: 0, Match: HexBytes{0x01}}},
		Reject:            []Signature{{Name: "reject", Offset: 0, Match: HexBytes{0x02}}},
		Triggered:         []Signature{{Name: "condition", Offset: 0, Match: HexBytes{0x7f}}},
	}
}

func (p Profile) Validate() error {
	if len(p.KeyExchangeHeader) == 0 {
		return fmt.Errorf("profile.key_exchange_header is required")
	}
	if len(p.Ack) == 0 {
		return fmt.Errorf("profile.ack needs at least one signature")
	}
	if len(p.Reject) == 0 {
		return fmt.Errorf("profile.reject needs at least one signature")
	}
	if len(p.Triggered) == 0 {
		return fmt.Errorf("profile.triggered needs at least one signature")
	}
	for _, group := range [][]Signature{p.Ack, p.Reject, p.Triggered} {
		for i, s := range group {
			if len(s.Match) == 0 {
				return fmt.Errorf("profile signature %d (%s): match is empty", i, s.Name)
			}
			if s.Offset < 0 {
				return fmt.Errorf("profile signature %d (%s): negative offset", i, s.Name)
			}
		}
	}
	return nil
}
