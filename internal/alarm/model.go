// Package alarm implements the entry-point alarm decision core: debounce
// filtering, evidence construction, direction inference, workflow routing,
// the per-entry-point state machine, entry-delay timers, the alert-level
// calculator, and the event log.
package alarm

import (
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/google/uuid"
)

// SignalType names the kind of event a sensor reported.
type SignalType string

const (
	SignalDoorOpen         SignalType = "door-open"
	SignalDoorClose        SignalType = "door-close"
	SignalWindowOpen       SignalType = "window-open"
	SignalWindowClose      SignalType = "window-close"
	SignalMotionActive     SignalType = "motion-active"
	SignalMotionClear      SignalType = "motion-clear"
	SignalPersonDetected   SignalType = "person-detected"
	SignalVehicleDetected  SignalType = "vehicle-detected"
	SignalLoiter           SignalType = "loiter"
	SignalApproachEntry    SignalType = "approach-entry"
	SignalGlassBreak       SignalType = "glass-break"
	SignalForcedEntry      SignalType = "forced-entry"
	SignalSmoke            SignalType = "smoke"
	SignalCO               SignalType = "co"
	SignalPanic            SignalType = "panic"
	SignalPackageDelivered SignalType = "package-delivered"
	SignalPackageRemoved   SignalType = "package-removed"
)

// SensorType names the physical sensor family that produced a signal; the
// debounce filter's rules are keyed on this, not on SignalType.
type SensorType string

const (
	SensorDoorContact   SensorType = "door-contact"
	SensorWindowContact SensorType = "window-contact"
	SensorMotionPIR     SensorType = "motion-pir"
	SensorCamera        SensorType = "camera"
	SensorGlassBreak    SensorType = "glass-break"
	SensorSmoke         SensorType = "smoke"
	SensorCO            SensorType = "co"
	SensorPanicButton   SensorType = "panic-button"
)

// ZoneType classifies what kind of area a zone covers.
type ZoneType string

const (
	ZoneEntryExit ZoneType = "entry-exit"
	ZonePerimeter ZoneType = "perimeter"
	ZoneInterior  ZoneType = "interior"
	ZoneExterior  ZoneType = "exterior"
	ZoneFire24h   ZoneType = "fire-24h"
	ZoneCO24h     ZoneType = "co-24h"

	zoneInteriorFollower ZoneType = "interior-follower"
	zoneInteriorInstant  ZoneType = "interior-instant"
)

// NormalizeZoneType collapses legacy interior zone sub-types down to the
// single ZoneInterior the router and evidence builder reason about.
func NormalizeZoneType(z ZoneType) ZoneType {
	switch z {
	case zoneInteriorFollower, zoneInteriorInstant:
		return ZoneInterior
	default:
		return z
	}
}

// LocationType classifies indoor/outdoor/threshold framing for evidence.
type LocationType string

const (
	LocationIndoor    LocationType = "indoor"
	LocationOutdoor   LocationType = "outdoor"
	LocationThreshold LocationType = "threshold"
)

// HouseMode is the premise-wide arming mode.
type HouseMode string

const (
	ModeDisarmed       HouseMode = "disarmed"
	ModeHome           HouseMode = "home"
	ModeAway           HouseMode = "away"
	ModeNightOccupied  HouseMode = "night-occupied"
	ModeNightPerimeter HouseMode = "night-perimeter"
)

// UserMode is the occupant's attentiveness posture, orthogonal to HouseMode.
type UserMode string

const (
	UserAlert UserMode = "alert"
	UserQuiet UserMode = "quiet"
)

// AlarmState is one of the five states an EntryMachine can occupy.
// CANCELED and RESOLVED are deliberately absent: they are event end-reasons,
// never machine states (see DESIGN.md's Open Question resolution).
type AlarmState string

const (
	StateQuiet     AlarmState = "quiet"
	StateAttention AlarmState = "attention"
	StatePre       AlarmState = "pre"
	StatePending   AlarmState = "pending"
	StateTriggered AlarmState = "triggered"
)

var statePriority = map[AlarmState]int{
	StateQuiet:     0,
	StateAttention: 1,
	StatePre:       2,
	StatePending:   3,
	StateTriggered: 4,
}

// Priority orders states by severity for aggregate status reporting.
func (s AlarmState) Priority() int { return statePriority[s] }

// EndReason records why a sealed event's machine returned to quiet.
type EndReason string

const (
	EndCanceled         EndReason = "canceled"
	EndResolved         EndReason = "resolved"
	EndAttentionLogged  EndReason = "attention_logged"
	EndTriggeredTimeout EndReason = "triggered-timeout"
)

// WorkflowClass is the router's priority-ordered classification of a signal.
type WorkflowClass string

const (
	WorkflowLifeSafety     WorkflowClass = "life-safety"
	WorkflowSecurityHeavy  WorkflowClass = "security-heavy"
	WorkflowSuspicionLight WorkflowClass = "suspicion-light"
	WorkflowLogistics      WorkflowClass = "logistics"
)

// AccessDecision is the optional, per-call override passed into Process
// alongside a Signal.
type AccessDecision string

const (
	AccessUnspecified AccessDecision = ""
	AccessAuthorized  AccessDecision = "authorized"
	AccessDenied      AccessDecision = "denied"
)

// Signal is a single normalized sensor report entering the pipeline.
type Signal struct {
	SignalID     string
	Timestamp    time.Time
	SensorID     string
	SensorType   SensorType
	Type         SignalType
	ZoneID       string
	EntryPointID string // "" if the signal isn't bound to an entry point
	Confidence   float64
	FromInside   *bool // optional direction hint; nil triggers inference
	Filtered     bool
	FilterReason string
	RawPayload   map[string]any
}

// HasEntryPoint reports whether the signal is bound to a specific entry
// point, or should route to the shared "_global" machine.
func (s Signal) HasEntryPoint() bool { return s.EntryPointID != "" }

// NewSignalID returns a fresh signal identifier for sources that don't
// supply their own.
func NewSignalID() string { return uuid.New().String() }

// Zone describes one physical area of the premise.
type Zone struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     ZoneType     `json:"type"`
	Location LocationType `json:"location"`
	Bypass   bool         `json:"bypass"` // stored with the topology; the pipeline does not consult it
}

// EntryPoint is a door, window, or other boundary the state machine tracks
// independently.
type EntryPoint struct {
	ID             string                      `json:"id"`
	Name           string                      `json:"name"`
	ZoneID         string                      `json:"zoneId"`
	EntryDelay     map[HouseMode]time.Duration `json:"entryDelay,omitempty"`
	SensorIDs      []string                    `json:"sensorIds,omitempty"`
	BypassPatterns []string                    `json:"bypassPatterns,omitempty"`
}

// EntryDelayFor resolves the configured entry delay for mode. ok is false
// when the entry point declares no override, so the caller should fall back
// to the package-level default for that mode.
func (ep EntryPoint) EntryDelayFor(mode HouseMode) (time.Duration, bool) {
	if ep.EntryDelay == nil {
		return 0, false
	}
	d, ok := ep.EntryDelay[mode]
	return d, ok
}

// Bypassed reports whether sensorID is exempt from debounce evaluation via
// this entry point's bypass glob patterns.
func (ep EntryPoint) Bypassed(sensorID string) bool {
	for _, pattern := range ep.BypassPatterns {
		if wildcard.Match(pattern, sensorID) {
			return true
		}
	}
	return false
}

// AccessWindow is a topology-declared, time-bounded authorization for an
// entry point, consumed by the router's authorized-access override.
type AccessWindow struct {
	EntryPointPattern string    `json:"entryPointPattern"` // glob matched against an entry point id
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
}

// Active reports whether now falls within the window.
func (w AccessWindow) Active(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// Matches reports whether entryPointID satisfies the window's pattern.
func (w AccessWindow) Matches(entryPointID string) bool {
	return wildcard.Match(w.EntryPointPattern, entryPointID)
}

// Topology holds the premise's zones, entry points and access windows. It is
// read-mostly: readers take the fast path (RLock), mutation goes through
// the coordinator.
type Topology struct {
	mu            sync.RWMutex
	zones         map[string]Zone
	entryPoints   map[string]EntryPoint
	accessWindows []AccessWindow
}

// NewTopology returns an empty topology ready for zones/entry points to be
// registered.
func NewTopology() *Topology {
	return &Topology{
		zones:       make(map[string]Zone),
		entryPoints: make(map[string]EntryPoint),
	}
}

// Zone looks up a zone by id.
func (t *Topology) Zone(id string) (Zone, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	z, ok := t.zones[id]
	return z, ok
}

// EntryPoint looks up an entry point by id.
func (t *Topology) EntryPoint(id string) (EntryPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.entryPoints[id]
	return ep, ok
}

// Zones returns a snapshot copy of every registered zone.
func (t *Topology) Zones() map[string]Zone {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Zone, len(t.zones))
	for k, v := range t.zones {
		out[k] = v
	}
	return out
}

// EntryPoints returns a snapshot copy of every registered entry point.
func (t *Topology) EntryPoints() map[string]EntryPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]EntryPoint, len(t.entryPoints))
	for k, v := range t.entryPoints {
		out[k] = v
	}
	return out
}

// SetZone registers or replaces a zone.
func (t *Topology) SetZone(z Zone) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.zones[z.ID] = z
}

// RemoveZone deregisters a zone.
func (t *Topology) RemoveZone(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.zones, id)
}

// SetEntryPoint registers or replaces an entry point.
func (t *Topology) SetEntryPoint(ep EntryPoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryPoints[ep.ID] = ep
}

// RemoveEntryPoint deregisters an entry point.
func (t *Topology) RemoveEntryPoint(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entryPoints, id)
}

// AccessWindows returns a snapshot copy of every standing access window.
func (t *Topology) AccessWindows() []AccessWindow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]AccessWindow(nil), t.accessWindows...)
}

// SetAccessWindows replaces the full set of standing access windows.
func (t *Topology) SetAccessWindows(windows []AccessWindow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessWindows = append([]AccessWindow(nil), windows...)
}

// AddAccessWindow appends one access window to the standing set.
func (t *Topology) AddAccessWindow(w AccessWindow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessWindows = append(t.accessWindows, w)
}

// AuthorizedFor reports whether a standing access window authorizes
// entryPointID at now.
func (t *Topology) AuthorizedFor(entryPointID string, now time.Time) bool {
	if entryPointID == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, w := range t.accessWindows {
		if w.Active(now) && w.Matches(entryPointID) {
			return true
		}
	}
	return false
}

// Evidence is a signal enriched with the zone/location context it arrived
// in, built by EvidenceBuilder.
type Evidence struct {
	Signal       Signal
	ZoneType     ZoneType
	LocationType LocationType
	Reliability  float64
	BaseWeight   float64
	ZoneMissing  bool
}

// EventRecord is one sealed (start..end) interval of an entry point's
// machine history.
type EventRecord struct {
	EventID      string
	EntryPointID string
	StartTime    time.Time
	EndTime      time.Time
	StartState   AlarmState
	EndState     AlarmState // always StateQuiet for sealed records
	EndReason    EndReason
	Signals      []Signal
}
