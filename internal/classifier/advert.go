package classifier

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AD structure types used by the classifier.
const (
	adShortName     = 0x08
	adCompleteName  = 0x09
	adServiceData16 = 0x16
)

var errTruncated = errors.New("truncated advertisement")

type adStructure struct {
	Type byte
	Data []byte
}

// parseAD splits advertising data into its length-type-value structures.
// A zero length byte ends the significant part of the payload.
func parseAD(payload []byte) ([]adStructure, error) {
	var out []adStructure
	for i := 0; i < len(payload); {
		l := int(payload[i])
		if l == 0 {
			break
		}
		if i+1+l > len(payload) {
			return out, fmt.Errorf("ad structure at %d declares %d bytes: %w", i, l, errTruncated)
		}
		out = append(out, adStructure{Type: payload[i+1], Data: payload[i+2 : i+1+l]})
		i += 1 + l
	}
	return out, nil
}

// serviceData returns the data advertised for a 16-bit service UUID.
func serviceData(ads []adStructure, uuid uint16) ([]byte, bool) {
	for _, ad := range ads {
		if ad.Type != adServiceData16 || len(ad.Data) < 2 {
			continue
		}
		if binary.LittleEndian.Uint16(ad.Data[:2]) == uuid {
			return ad.Data[2:], true
		}
	}
	return nil, false
}

func localName(ads []adStructure) string {
	var short string
	for _, ad := range ads {
		switch ad.Type {
		case adCompleteName:
			return string(ad.Data)
		case adShortName:
			short = string(ad.Data)
		}
	}
	return short
}

// pairingFrame is the decoded service data of a pairing advertisement.
type pairingFrame struct {
	Version      int
	Flags        byte
	ModelID      []byte
	Discoverable bool
	Fields       []byte // field types in advertised order
}

// v0Header is the header byte of a version 0 frame without flags.
const v0Header = 0x00

// parsePairingFrame decodes the service data. Three bytes carry a model ID
// (discoverable mode) unless they open with the v0 header; anything else
// starts with a version/flags header followed by length-type fields. Model
// IDs with a leading zero byte are therefore read as header frames.
func parsePairingFrame(sd []byte) (pairingFrame, error) {
	if len(sd) == 3 && sd[0] != v0Header {
		return pairingFrame{ModelID: append([]byte(nil), sd...), Discoverable: true}, nil
	}
	if len(sd) == 0 {
		return pairingFrame{}, fmt.Errorf("empty service data: %w", errTruncated)
	}

	f := pairingFrame{
		Version: int(sd[0] >> 5),
		Flags:   sd[0] & 0x1f,
	}
	for i := 1; i < len(sd); {
		fl := int(sd[i] >> 4)
		ft := sd[i] & 0x0f
		if i+1+fl > len(sd) {
			return f, fmt.Errorf("field 0x%x at %d declares %d bytes: %w", ft, i, fl, errTruncated)
		}
		f.Fields = append(f.Fields, ft)
		i += 1 + fl
	}
	return f, nil
}
