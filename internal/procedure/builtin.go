package procedure

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"bytemomo/whisper/internal/domain"
)

const (
	LengthOverflowID = "length-overflow"

	defaultOverflowBody   = 16
	defaultOverflowExcess = 0xff
)

// LengthOverflow frames a body whose declared length exceeds what is sent:
// header | uint16 declared length (big endian) | body. The body carries the
// session nonce, zero padded to Body bytes.
type LengthOverflow struct {
	Header []byte
	Body   int
	Excess int
}

func NewLengthOverflow(header []byte) *LengthOverflow {
	return &LengthOverflow{
		Header: append([]byte(nil), header...),
		Body:   defaultOverflowBody,
		Excess: defaultOverflowExcess,
	}
}

func (p *LengthOverflow) ID() string { return LengthOverflowID }

func (p *LengthOverflow) Build(s domain.Session, _ domain.Device) ([]byte, error) {
	if p.Body < 0 || p.Excess <= 0 {
		return nil, fmt.Errorf("%s: body %d excess %d", LengthOverflowID, p.Body, p.Excess)
	}
	declared := p.Body + p.Excess
	if declared > 0xffff {
		return nil, fmt.Errorf("%s: declared length %d does not fit the length field", LengthOverflowID, declared)
	}

	frame := make([]byte, 0, len(p.Header)+2+p.Body)
	frame = append(frame, p.Header...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(declared))
	body := make([]byte, p.Body)
	copy(body, s.Nonce)
	return append(frame, body...), nil
}

// Template is a hex frame with placeholders expanded per attempt.
type Template struct {
	id    string
	frame string
}

// NewTemplate checks that frame decodes once its placeholders are expanded.
func NewTemplate(id, frame string) (*Template, error) {
	if id == "" {
		return nil, fmt.Errorf("template: id is required")
	}
	t := &Template{id: id, frame: frame}
	probe := domain.Session{ID: "00000000-0000-0000-0000-000000000000", Nonce: make([]byte, 16), PublicKey: make([]byte, 32)}
	if _, err := t.Build(probe, domain.Device{}); err != nil {
		return nil, fmt.Errorf("template %q: %w", id, err)
	}
	return t, nil
}

func (t *Template) ID() string { return t.id }

func (t *Template) Build(s domain.Session, d domain.Device) ([]byte, error) {
	expanded := strings.NewReplacer(
		"{{nonce}}", hex.EncodeToString(s.Nonce),
		"{{pubkey}}", hex.EncodeToString(s.PublicKey),
		"{{session}}", strings.ReplaceAll(s.ID, "-", ""),
		"{{address}}", hex.EncodeToString(d.Address),
	).Replace(t.frame)
	if strings.Contains(expanded, "{{") {
		return nil, fmt.Errorf("unknown placeholder in %q", t.frame)
	}
	frame, err := domain.ParseHex(expanded)
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	return frame, nil
}
