// Package registry holds the devices found by the most recent scan.
package registry

import (
	"net"
	"sync/atomic"
	"time"

	"bytemomo/whisper/internal/domain"
)

type snapshot struct {
	devices   []domain.Device
	index     map[string]int
	scannedAt time.Time
}

// Registry is a replace-only snapshot of discovered devices. Readers always
// see one complete scan result.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{index: map[string]int{}})
	return r
}

// Record replaces the snapshot. Duplicate addresses keep their first position
// and take the fields of the later entry. The snapshot owns copies of the
// devices; callers only ever get copies back.
func (r *Registry) Record(devices []domain.Device) {
	snap := &snapshot{
		devices:   make([]domain.Device, 0, len(devices)),
		index:     make(map[string]int, len(devices)),
		scannedAt: time.Now(),
	}
	for _, d := range devices {
		if len(d.Address) == 0 {
			continue
		}
		d = d.Clone()
		key := d.Key()
		if i, dup := snap.index[key]; dup {
			snap.devices[i] = d
			continue
		}
		snap.index[key] = len(snap.devices)
		snap.devices = append(snap.devices, d)
	}
	r.current.Store(snap)
}

// Lookup finds a device of the current snapshot by address.
func (r *Registry) Lookup(addr net.HardwareAddr) (domain.Device, bool) {
	snap := r.current.Load()
	i, ok := snap.index[domain.AddressKey(addr)]
	if !ok {
		return domain.Device{}, false
	}
	return snap.devices[i].Clone(), true
}

// All returns a copy of the current snapshot in discovery order.
func (r *Registry) All() []domain.Device {
	snap := r.current.Load()
	out := make([]domain.Device, len(snap.devices))
	for i, d := range snap.devices {
		out[i] = d.Clone()
	}
	return out
}

func (r *Registry) Len() int { return len(r.current.Load().devices) }

// ScannedAt is the time the current snapshot was recorded; zero before the
// first scan.
func (r *Registry) ScannedAt() time.Time { return r.current.Load().scannedAt }
