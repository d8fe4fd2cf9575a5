package alarm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// globalEntryPointID is the shared machine signals without an entry-point
// binding route to.
const globalEntryPointID = "_global"

// CoordinatorConfig bundles the tuning for every sub-component the
// Coordinator owns.
type CoordinatorConfig struct {
	Debounce           DebounceConfig
	Router             RouterConfig
	DirectionWindow    time.Duration
	NightContextWindow time.Duration // wider lookback for night-mode preceding-activity gating
	EventLogCapacity   int
	WorkQueueSize      int
}

// DefaultCoordinatorConfig returns the stated default tuning throughout.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Debounce:           DefaultDebounceConfig(),
		Router:             DefaultRouterConfig(),
		DirectionWindow:    10 * time.Second,
		NightContextWindow: 60 * time.Second,
		EventLogCapacity:   DefaultEventLogCapacity,
		WorkQueueSize:      16,
	}
}

type workItem struct {
	cmd  MachineCommand
	now  time.Time
	resp chan MachineResult
}

// Coordinator is the security coordinator/router: it owns the topology, the
// debounce/evidence/direction/router pipeline stages, the per-entry-point
// machines, their command queues, the timer service and the event log. One
// goroutine per entry point serializes that machine's commands, supervised
// together by an errgroup.
type Coordinator struct {
	cfg CoordinatorConfig

	mu        sync.RWMutex
	topology  *Topology
	debounce  *Debounce
	evidence  *EvidenceBuilder
	direction *DirectionInferencer
	router    *Router
	log       *EventLog
	houseMode HouseMode
	userMode  UserMode
	machines  map[string]*EntryMachine
	workCh    map[string]chan workItem

	timers *TimerService

	stopCh chan struct{}
	group  *errgroup.Group
}

// NewCoordinator constructs a Coordinator over topo, starting disarmed.
func NewCoordinator(topo *Topology, cfg CoordinatorConfig) *Coordinator {
	group, _ := errgroup.WithContext(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		topology:  topo,
		debounce:  NewDebounce(cfg.Debounce),
		evidence:  NewEvidenceBuilder(),
		direction: NewDirectionInferencer(cfg.DirectionWindow),
		router:    NewRouter(cfg.Router),
		log:       NewEventLog(cfg.EventLogCapacity),
		houseMode: ModeDisarmed,
		userMode:  UserAlert,
		machines:  make(map[string]*EntryMachine),
		workCh:    make(map[string]chan workItem),
		stopCh:    make(chan struct{}),
		group:     group,
	}
	c.timers = NewTimerService(c.deliverTimerExpiry)
	c.mu.Lock()
	c.ensureMachineLocked(globalEntryPointID)
	c.mu.Unlock()
	return c
}

// Shutdown stops every per-entry-point goroutine and waits for them to
// exit.
func (c *Coordinator) Shutdown() {
	close(c.stopCh)
	_ = c.group.Wait()
}

func (c *Coordinator) ensureMachineLocked(entryPointID string) (*EntryMachine, chan workItem) {
	if m, ok := c.machines[entryPointID]; ok {
		return m, c.workCh[entryPointID]
	}
	m := NewEntryMachine(entryPointID, NewEventID)
	ch := make(chan workItem, c.cfg.WorkQueueSize)
	c.machines[entryPointID] = m
	c.workCh[entryPointID] = ch
	c.group.Go(func() error {
		c.runMachine(m, ch)
		return nil
	})
	return m, ch
}

func (c *Coordinator) runMachine(m *EntryMachine, ch chan workItem) {
	for {
		select {
		case item, ok := <-ch:
			if !ok {
				return
			}
			res := m.Apply(item.cmd, item.now)
			c.afterTransition(res)
			if item.resp != nil {
				item.resp <- res
			}
		case <-c.stopCh:
			return
		}
	}
}

// afterTransition carries out the timer and event-log side effects a
// machine transition requested. The event log publish is the pipeline's one
// permitted non-blocking asynchronous step; starting/cancelling a real timer
// is the other permitted suspension point, delegated to the external timer
// host via TimerService.
func (c *Coordinator) afterTransition(res MachineResult) {
	switch res.TimerAction {
	case TimerStart:
		c.timers.Start(res.EntryPointID, res.TimerID, res.TimerDelay, res.Now)
	case TimerCancel:
		c.timers.Cancel(res.EntryPointID)
	}
	if res.SealedEvent != nil {
		c.log.Publish(*res.SealedEvent)
	}
}

// dispatch sends cmd to entryPointID's machine and blocks for the result.
// This is the call-bridging suspension point between Process's caller and
// the machine's own goroutine; the transition logic it waits on remains
// CPU-only.
func (c *Coordinator) dispatch(entryPointID string, cmd MachineCommand, now time.Time) MachineResult {
	c.mu.Lock()
	_, ch := c.ensureMachineLocked(entryPointID)
	c.mu.Unlock()

	resp := make(chan MachineResult, 1)
	select {
	case ch <- workItem{cmd: cmd, now: now, resp: resp}:
	case <-c.stopCh:
		return MachineResult{EntryPointID: entryPointID, Reason: "coordinator_stopped"}
	}
	select {
	case res := <-resp:
		return res
	case <-c.stopCh:
		return MachineResult{EntryPointID: entryPointID, Reason: "coordinator_stopped"}
	}
}

func (c *Coordinator) deliverTimerExpiry(entryPointID string, cmd MachineCommand) {
	c.mu.RLock()
	ch, ok := c.workCh[entryPointID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- workItem{cmd: cmd, now: time.Now()}:
	case <-c.stopCh:
	}
}

// components returns a consistent snapshot of the stage objects Process
// needs, so UpdateTopology can swap debounce/direction without a data race.
func (c *Coordinator) components() (*Debounce, *EvidenceBuilder, *DirectionInferencer, *Router, *Topology) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debounce, c.evidence, c.direction, c.router, c.topology
}

// Modes returns the current house and user mode.
func (c *Coordinator) Modes() (HouseMode, UserMode) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.houseMode, c.userMode
}

// SetModes atomically updates house/user mode. Entering disarmed from any
// other mode cancels every live timer and seals every open event as
// canceled, so disarming suppresses transitions for events already in
// flight, not only future signals.
func (c *Coordinator) SetModes(house HouseMode, user UserMode) {
	c.mu.Lock()
	prev := c.houseMode
	c.houseMode = house
	c.userMode = user
	ids := c.allMachineIDsLocked()
	c.mu.Unlock()

	if house == ModeDisarmed && prev != ModeDisarmed {
		c.fanOutIDs(ids, MachineCommand{Kind: CmdDisarm})
	}
}

// Disarm is the dedicated disarm command: equivalent to SetModes with house
// mode disarmed, preserving the current user mode.
func (c *Coordinator) Disarm() {
	_, user := c.Modes()
	c.SetModes(ModeDisarmed, user)
}

// Cancel applies a user-cancel command to one entry point's machine.
func (c *Coordinator) Cancel(entryPointID string) MachineResult {
	return c.dispatch(entryPointID, MachineCommand{Kind: CmdUserCancel}, time.Now())
}

// Resolve applies a user-resolve command to one entry point's machine.
func (c *Coordinator) Resolve(entryPointID string) MachineResult {
	return c.dispatch(entryPointID, MachineCommand{Kind: CmdUserResolve}, time.Now())
}

// CancelAll applies user-cancel to every machine currently tracked.
func (c *Coordinator) CancelAll() []MachineResult {
	return c.fanOut(MachineCommand{Kind: CmdUserCancel})
}

// ResolveAll applies user-resolve to every machine currently tracked.
func (c *Coordinator) ResolveAll() []MachineResult {
	return c.fanOut(MachineCommand{Kind: CmdUserResolve})
}

// Reset returns every machine to quiet, cancels every timer, disarms, and
// empties the event log. Administrative/test operation, not part of normal
// operation (see EntryMachine.Reset).
func (c *Coordinator) Reset() {
	c.Disarm()

	c.mu.Lock()
	machines := make([]*EntryMachine, 0, len(c.machines))
	for _, m := range c.machines {
		machines = append(machines, m)
	}
	c.log = NewEventLog(c.cfg.EventLogCapacity)
	c.mu.Unlock()

	for _, m := range machines {
		m.Reset()
	}
	c.timers.CancelAll()
}

func (c *Coordinator) allMachineIDsLocked() []string {
	ids := make([]string, 0, len(c.machines))
	for id := range c.machines {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) fanOut(cmd MachineCommand) []MachineResult {
	c.mu.RLock()
	ids := c.allMachineIDsLocked()
	c.mu.RUnlock()
	return c.fanOutIDs(ids, cmd)
}

func (c *Coordinator) fanOutIDs(ids []string, cmd MachineCommand) []MachineResult {
	now := time.Now()
	results := make([]MachineResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, c.dispatch(id, cmd, now))
	}
	return results
}

// EntryStatus is one entry point's row in a Status snapshot.
type EntryStatus struct {
	Name                string
	State               AlarmState
	EntryDelayRemaining time.Duration
}

// Status is the aggregate snapshot returned by GetStatus.
type Status struct {
	HouseMode   HouseMode
	UserMode    UserMode
	GlobalState AlarmState
	EntryPoints map[string]EntryStatus
}

// GetStatus reports the current mode and every tracked entry point's state.
func (c *Coordinator) GetStatus() Status {
	house, user := c.Modes()
	now := time.Now()

	c.mu.RLock()
	machines := make(map[string]*EntryMachine, len(c.machines))
	for id, m := range c.machines {
		machines[id] = m
	}
	topology := c.topology
	c.mu.RUnlock()

	entries := make(map[string]EntryStatus, len(machines))
	globalState := StateQuiet
	for id, m := range machines {
		st := m.State()
		if st.Priority() > globalState.Priority() {
			globalState = st
		}
		name := id
		if ep, ok := topology.EntryPoint(id); ok {
			name = ep.Name
		}
		entries[id] = EntryStatus{
			Name:                name,
			State:               st,
			EntryDelayRemaining: c.timers.RemainingFor(id, now),
		}
	}

	return Status{HouseMode: house, UserMode: user, GlobalState: globalState, EntryPoints: entries}
}

// GetEvents returns up to limit of the most recently sealed events.
func (c *Coordinator) GetEvents(limit int) []EventRecord {
	c.mu.RLock()
	log := c.log
	c.mu.RUnlock()
	return log.Recent(limit)
}

// GetTopology returns the coordinator's current topology.
func (c *Coordinator) GetTopology() *Topology {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topology
}

// UpdateTopology installs a new topology and reinitializes the dependent
// per-sensor debounce state and the direction inferencer's bounded history,
// since both are keyed to the topology that produced them.
func (c *Coordinator) UpdateTopology(topo *Topology) {
	c.mu.Lock()
	c.topology = topo
	c.debounce = NewDebounce(c.cfg.Debounce)
	c.direction = NewDirectionInferencer(c.cfg.DirectionWindow)
	c.mu.Unlock()
}
