package alarm

import (
	"sync"
	"time"
)

// CommandKind names the kind of command an EntryMachine can apply.
type CommandKind string

const (
	CmdAcceptSignal CommandKind = "accept_signal"
	CmdTimerExpired CommandKind = "timer_expired"
	CmdUserCancel   CommandKind = "user_cancel"
	CmdUserResolve  CommandKind = "user_resolve"
	CmdDisarm       CommandKind = "disarm"
)

// TimerAction reports what a transition requires of the timer service.
type TimerAction int

const (
	TimerNone TimerAction = iota
	TimerStart
	TimerCancel
)

// MachineCommand is a single unit of work applied to an EntryMachine.
// Exactly one command is applied at a time, in receive order — the caller
// (Coordinator) supplies the serialization point, not the machine.
type MachineCommand struct {
	Kind     CommandKind
	Target   AlarmState    // meaningful only for CmdAcceptSignal
	Delay    time.Duration // meaningful only when Target == StatePending
	Evidence Evidence      // triggering evidence, appended to the open event
	TimerID  uint64        // meaningful only for CmdTimerExpired
}

// MachineResult reports the outcome of a single Apply call.
type MachineResult struct {
	EntryPointID string
	From         AlarmState
	To           AlarmState
	Trigger      CommandKind
	Accepted     bool
	Reason       string
	SealedEvent  *EventRecord // non-nil when an event was sealed this step
	OpenEventID  string       // id of the event now open, "" if none
	TimerAction  TimerAction
	TimerDelay   time.Duration
	TimerID      uint64 // meaningful only when TimerAction == TimerStart
	Now          time.Time
}

// EntryMachine owns one entry point's alarm state and its single open
// event, enforcing "at most one open event per machine" by construction:
// there is exactly one *EventRecord field, never a slice.
type EntryMachine struct {
	mu             sync.Mutex
	entryPointID   string
	state          AlarmState
	openEvent      *EventRecord
	currentTimerID uint64
	nextTimerID    uint64
	newEventID     func() string
}

// NewEntryMachine constructs a machine for entryPointID in StateQuiet.
// newEventID is injectable for deterministic tests; nil uses NewEventID.
func NewEntryMachine(entryPointID string, newEventID func() string) *EntryMachine {
	if newEventID == nil {
		newEventID = NewEventID
	}
	return &EntryMachine{
		entryPointID: entryPointID,
		state:        StateQuiet,
		newEventID:   newEventID,
	}
}

// State returns the machine's current state.
func (m *EntryMachine) State() AlarmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentTimerID returns the id of the timer currently live for this
// machine, or 0 if none is running.
func (m *EntryMachine) CurrentTimerID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTimerID
}

// OpenEvent returns a defensive copy of the currently open event, or nil.
func (m *EntryMachine) OpenEvent() *EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openEvent == nil {
		return nil
	}
	clone := *m.openEvent
	clone.Signals = append([]Signal(nil), m.openEvent.Signals...)
	return &clone
}

// Reset returns the machine to StateQuiet with no open event and no live
// timer. It is an administrative/test operation, not part of the normal
// command stream, and bypasses whatever in-flight command might be queued
// behind it.
func (m *EntryMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateQuiet
	m.openEvent = nil
	m.currentTimerID = 0
}

// Apply processes a single command and returns the resulting transition.
// now is supplied by the caller rather than read from the wall clock,
// keeping the transition logic itself a pure, CPU-only function of its
// inputs.
func (m *EntryMachine) Apply(cmd MachineCommand, now time.Time) MachineResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := MachineResult{EntryPointID: m.entryPointID, From: m.state, To: m.state, Trigger: cmd.Kind, Now: now}

	switch cmd.Kind {
	case CmdAcceptSignal:
		m.applyAcceptSignal(cmd, now, &res)
	case CmdTimerExpired:
		m.applyTimerExpired(cmd, &res)
	case CmdUserCancel:
		m.applyUserCancel(now, &res)
	case CmdUserResolve:
		m.applyUserResolve(now, &res)
	case CmdDisarm:
		m.applyDisarm(now, &res)
	default:
		res.Reason = "unknown_command"
	}

	res.To = m.state
	if m.openEvent != nil {
		res.OpenEventID = m.openEvent.EventID
	}
	return res
}

func (m *EntryMachine) newEvent(state AlarmState, now time.Time) *EventRecord {
	return &EventRecord{
		EventID:      m.newEventID(),
		EntryPointID: m.entryPointID,
		StartTime:    now,
		StartState:   state,
	}
}

func (m *EntryMachine) appendOpenSignal(sig Signal) {
	if sig.SignalID == "" || m.openEvent == nil {
		return
	}
	m.openEvent.Signals = append(m.openEvent.Signals, sig)
}

func (m *EntryMachine) sealOpenEvent(now time.Time, reason EndReason) *EventRecord {
	if m.openEvent == nil {
		return nil
	}
	ev := m.openEvent
	ev.EndTime = now
	ev.EndState = StateQuiet
	ev.EndReason = reason
	m.openEvent = nil

	sealed := *ev
	sealed.Signals = append([]Signal(nil), ev.Signals...)
	return &sealed
}

func (m *EntryMachine) cancelTimer(res *MachineResult) {
	if m.currentTimerID != 0 {
		res.TimerAction = TimerCancel
		m.currentTimerID = 0
	}
}

func (m *EntryMachine) nextTimerIDValue() uint64 {
	m.nextTimerID++
	return m.nextTimerID
}

// applyAcceptSignal implements the full from-state x target-state table.
//
// A target of StatePending with Delay <= 0 collapses immediately to
// StateTriggered in the same step — it never rests in pending, so no timer
// is started (the "zero-delay immediate trigger" edge case).
//
// Escalating straight to StateTriggered via an incoming signal (as opposed
// to a timer expiring naturally) always seals whatever event is open with
// EndCanceled and opens a fresh event in StateTriggered: a higher-priority
// signal arriving mid-pending supersedes the lower-priority event rather
// than absorbing into it.
func (m *EntryMachine) applyAcceptSignal(cmd MachineCommand, now time.Time, res *MachineResult) {
	sig := cmd.Evidence.Signal
	target := cmd.Target
	if target == StatePending && cmd.Delay <= 0 {
		target = StateTriggered
	}

	switch m.state {
	case StateQuiet:
		switch target {
		case StateQuiet:
			// router said ignore: nothing observed a zone-crossing worth even
			// an ephemeral attention event.
			res.Accepted = true
		case StateAttention:
			m.openEvent = m.newEvent(StateAttention, now)
			m.appendOpenSignal(sig)
			res.SealedEvent = m.sealOpenEvent(now, EndAttentionLogged)
			m.state = StateQuiet
			res.Accepted = true
		case StatePre, StateTriggered:
			m.openEvent = m.newEvent(target, now)
			m.appendOpenSignal(sig)
			m.state = target
			res.Accepted = true
		case StatePending:
			m.openEvent = m.newEvent(StatePending, now)
			m.appendOpenSignal(sig)
			m.state = StatePending
			m.currentTimerID = m.nextTimerIDValue()
			res.TimerAction = TimerStart
			res.TimerDelay = cmd.Delay
			res.TimerID = m.currentTimerID
			res.Accepted = true
		default:
			res.Reason = "unroutable_target"
		}

	case StatePre:
		switch target {
		case StateQuiet:
			// router ignored this signal; the in-flight pre event is untouched.
			res.Accepted = true
		case StatePre, StateAttention:
			m.appendOpenSignal(sig)
			res.Accepted = true
		case StatePending:
			m.appendOpenSignal(sig)
			m.state = StatePending
			m.currentTimerID = m.nextTimerIDValue()
			res.TimerAction = TimerStart
			res.TimerDelay = cmd.Delay
			res.TimerID = m.currentTimerID
			res.Accepted = true
		case StateTriggered:
			res.SealedEvent = m.sealOpenEvent(now, EndCanceled)
			m.openEvent = m.newEvent(StateTriggered, now)
			m.appendOpenSignal(sig)
			m.state = StateTriggered
			res.Accepted = true
		default:
			res.Reason = "unroutable_target"
		}

	case StatePending:
		switch target {
		case StateQuiet:
			// router ignored this signal; the running timer is untouched.
			res.Accepted = true
		case StatePre, StateAttention:
			// downgrade requests while pending are ignored; the signal is
			// still appended to the running event.
			m.appendOpenSignal(sig)
			res.Accepted = true
		case StatePending:
			// already pending: append only, the running timer is untouched.
			m.appendOpenSignal(sig)
			res.Accepted = true
		case StateTriggered:
			m.cancelTimer(res)
			res.SealedEvent = m.sealOpenEvent(now, EndCanceled)
			m.openEvent = m.newEvent(StateTriggered, now)
			m.appendOpenSignal(sig)
			m.state = StateTriggered
			res.Accepted = true
		default:
			res.Reason = "unroutable_target"
		}

	case StateTriggered:
		// already at ceiling severity: append and stay.
		m.appendOpenSignal(sig)
		res.Accepted = true

	default:
		res.Reason = "invalid_state"
	}
}

// applyTimerExpired escalates a naturally-expired pending timer to
// triggered, continuing the SAME open event (no reseal): the sealed event's
// signal list contains only the original triggering signal, with no
// synthetic "timer" entry.
//
// A timer id that doesn't match the machine's current live timer is a
// stale/superseded expiry and is a no-op.
func (m *EntryMachine) applyTimerExpired(cmd MachineCommand, res *MachineResult) {
	if m.state != StatePending {
		res.Reason = "stale_timer_no_pending"
		return
	}
	if cmd.TimerID == 0 || cmd.TimerID != m.currentTimerID {
		res.Reason = "stale_timer_id"
		return
	}
	m.currentTimerID = 0
	m.state = StateTriggered
	res.Accepted = true
}

func (m *EntryMachine) applyUserCancel(now time.Time, res *MachineResult) {
	switch m.state {
	case StatePre, StatePending:
		m.cancelTimer(res)
		res.SealedEvent = m.sealOpenEvent(now, EndCanceled)
		m.state = StateQuiet
		res.Accepted = true
	default:
		res.Reason = "cancel_invalid_from_state"
	}
}

func (m *EntryMachine) applyUserResolve(now time.Time, res *MachineResult) {
	if m.state != StateTriggered {
		res.Reason = "resolve_invalid_from_state"
		return
	}
	res.SealedEvent = m.sealOpenEvent(now, EndResolved)
	m.state = StateQuiet
	res.Accepted = true
}

func (m *EntryMachine) applyDisarm(now time.Time, res *MachineResult) {
	switch m.state {
	case StateQuiet:
		res.Accepted = true
	case StatePre, StatePending, StateTriggered:
		m.cancelTimer(res)
		res.SealedEvent = m.sealOpenEvent(now, EndCanceled)
		m.state = StateQuiet
		res.Accepted = true
	default:
		res.Reason = "invalid_state"
	}
}
