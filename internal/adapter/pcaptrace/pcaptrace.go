// Package pcaptrace records received advertisements as Bluetooth LE link
// layer packets, readable by Wireshark.
package pcaptrace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"bytemomo/whisper/internal/domain"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	// LinkTypeBluetoothLELL is DLT_BLUETOOTH_LE_LL.
	LinkTypeBluetoothLELL layers.LinkType = 251

	advAccessAddress uint32 = 0x8e89bed6
	advCRCInit       uint32 = 0xaaaaaa // 0x555555, bit reversed
	crcPoly          uint32 = 0x5a6000

	pduADVInd   = 0x00
	txAddRandom = 0x40

	maxAdvData = 31
	snapLen    = 4 + 2 + 6 + maxAdvData + 3
)

// Writer is a domain.TraceSink backed by a pcap stream.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  int
}

var _ domain.TraceSink = (*Writer)(nil)

// New writes the pcap file header to w.
func New(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeBluetoothLELL); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	tw := &Writer{w: pw}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw, nil
}

// Create truncates path and starts a trace in it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// TraceAdvertisement appends rec as an ADV_IND packet. Payloads longer than
// a legacy advertisement are truncated.
func (w *Writer) TraceAdvertisement(rec domain.RawPeerRecord) error {
	pkt := EncodeAdvInd(rec.Address, rec.Payload)
	ci := gopacket.CaptureInfo{
		Timestamp:     rec.SeenAt,
		CaptureLength: len(pkt),
		Length:        len(pkt),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.WritePacket(ci, pkt); err != nil {
		return fmt.Errorf("pcap write: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of packets written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// EncodeAdvInd frames an advertisement as it appears on air: access address,
// PDU header, advertiser address (LSB first), AD data and CRC.
func EncodeAdvInd(addr []byte, data []byte) []byte {
	if len(data) > maxAdvData {
		data = data[:maxAdvData]
	}

	pkt := make([]byte, 4, snapLen)
	binary.LittleEndian.PutUint32(pkt, advAccessAddress)

	pdu := make([]byte, 0, 2+6+len(data))
	pdu = append(pdu, pduADVInd|txAddRandom, byte(6+len(data)))
	var advA [6]byte
	for i := 0; i < len(addr) && i < 6; i++ {
		advA[i] = addr[len(addr)-1-i]
	}
	pdu = append(pdu, advA[:]...)
	pdu = append(pdu, data...)

	crc := crc24(advCRCInit, pdu)
	pkt = append(pkt, pdu...)
	return append(pkt, byte(crc), byte(crc>>8), byte(crc>>16))
}

func crc24(state uint32, data []byte) uint32 {
	for _, b := range data {
		for i := 0; i < 8; i++ {
			next := (state ^ uint32(b)) & 1
			b >>= 1
			state >>= 1
			if next != 0 {
				state |= 1 << 23
				state ^= crcPoly
			}
		}
	}
	return state & 0xffffff
}
