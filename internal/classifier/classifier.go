package classifier

import (
	"encoding/hex"
	"fmt"
	"strings"

	"bytemomo/whisper/internal/domain"
)

// SupportedVersion is the only pairing frame version the classifier decodes.
const SupportedVersion = 0

// Classifier maps advertisements to devices. It is safe for concurrent use
// and never fails: anything it cannot decode is classified Unknown.
type Classifier struct {
	serviceUUID uint16
	vulnerable  map[string]struct{}
	patched     map[string]struct{}
	unlisted    domain.VulnStatus
}

// New builds a classifier for the given service UUID and model lists.
func New(serviceUUID uint16, cfg domain.ClassifierConfig) *Classifier {
	c := &Classifier{
		serviceUUID: serviceUUID,
		vulnerable:  modelSet(cfg.VulnerableModels),
		patched:     modelSet(cfg.PatchedModels),
		unlisted:    domain.StatusVulnerable,
	}
	if c.serviceUUID == 0 {
		c.serviceUUID = domain.FastPairServiceUUID
	}
	if cfg.Unlisted != nil {
		c.unlisted = *cfg.Unlisted
	}
	// classification never confirms
	if c.unlisted == domain.StatusConfirmed {
		c.unlisted = domain.StatusVulnerable
	}
	return c
}

// Classify derives a device descriptor from a single observation.
func (c *Classifier) Classify(rec domain.RawPeerRecord) domain.Device {
	d := domain.Device{
		Address:  rec.Address,
		Name:     rec.Name,
		RSSI:     rec.RSSI,
		LastSeen: rec.SeenAt,
		Status:   domain.StatusUnknown,
	}

	ads, err := parseAD(rec.Payload)
	if d.Name == "" {
		d.Name = localName(ads)
	}
	if err != nil {
		return d
	}

	sd, ok := serviceData(ads, c.serviceUUID)
	if !ok {
		d.Status = domain.StatusNotVulnerable
		return d
	}

	frame, err := parsePairingFrame(sd)
	if err != nil {
		return d
	}

	d.Fingerprint = Fingerprint(frame.Version)
	if frame.Version != SupportedVersion {
		return d
	}

	d.Mode = domain.ModeNotDiscoverable
	if frame.Discoverable {
		d.Mode = domain.ModeDiscoverable
		d.ModelID = hex.EncodeToString(frame.ModelID)
	}
	d.Status = c.statusFor(d.ModelID)
	return d
}

func (c *Classifier) statusFor(model string) domain.VulnStatus {
	if model != "" {
		if _, ok := c.patched[model]; ok {
			return domain.StatusNotVulnerable
		}
		if _, ok := c.vulnerable[model]; ok {
			return domain.StatusVulnerable
		}
	}
	return c.unlisted
}

// Coalesce classifies a scan batch and folds repeated observations of an
// address into one device, kept at its first-discovery position.
func (c *Classifier) Coalesce(records []domain.RawPeerRecord) []domain.Device {
	index := make(map[string]int, len(records))
	out := make([]domain.Device, 0, len(records))

	for _, rec := range records {
		if len(rec.Address) == 0 {
			continue
		}
		d := c.Classify(rec)
		key := d.Key()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, d)
			continue
		}
		out[i] = merge(out[i], d)
	}
	return out
}

// merge lets the later observation win field by field, except that a less
// specific status never replaces a more specific one.
func merge(prev, next domain.Device) domain.Device {
	merged := next
	if merged.Name == "" {
		merged.Name = prev.Name
	}
	if next.LastSeen.Before(prev.LastSeen) {
		merged.LastSeen = prev.LastSeen
	}
	if next.Status.Specificity() < prev.Status.Specificity() {
		merged.Status = prev.Status
		merged.Fingerprint = prev.Fingerprint
		merged.ModelID = prev.ModelID
		merged.Mode = prev.Mode
	}
	if merged.ModelID == "" {
		merged.ModelID = prev.ModelID
	}
	return merged
}

// Fingerprint names the protocol variant; procedures are keyed by it.
func Fingerprint(version int) string {
	return fmt.Sprintf("fastpair/v%d", version)
}

func modelSet(models []string) map[string]struct{} {
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		m = strings.ToLower(strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(m))
		if m != "" {
			set[m] = struct{}{}
		}
	}
	return set
}
