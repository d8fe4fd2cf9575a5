package alarm

// EvidenceBuilder attaches zone/location context to a signal: look the zone
// up, fall back to a conservative default when it's missing rather than
// failing the pipeline.
type EvidenceBuilder struct{}

// NewEvidenceBuilder returns a ready-to-use builder; it carries no state.
func NewEvidenceBuilder() *EvidenceBuilder { return &EvidenceBuilder{} }

// Build resolves sig's zone against topo and produces the Evidence the rest
// of the pipeline reasons about. A missing zone is treated as exterior/
// outdoor — the more alarming assumption — and flagged via ZoneMissing so
// callers can log the gap instead of silently trusting it.
func (b *EvidenceBuilder) Build(sig Signal, topo *Topology) Evidence {
	zone, ok := topo.Zone(sig.ZoneID)
	if !ok {
		return Evidence{
			Signal:       sig,
			ZoneType:     ZoneExterior,
			LocationType: LocationOutdoor,
			Reliability:  1.0,
			BaseWeight:   1.0,
			ZoneMissing:  true,
		}
	}
	return Evidence{
		Signal:       sig,
		ZoneType:     NormalizeZoneType(zone.Type),
		LocationType: zone.Location,
		Reliability:  1.0,
		BaseWeight:   1.0,
	}
}
