package alarm

import (
	"sync"
	"time"
)

// timerHandle tracks one entry point's single live timer.
type timerHandle struct {
	timerID  uint64
	timer    *time.Timer
	deadline time.Time
}

// TimerService schedules cancellable one-shot entry-delay timers and
// delivers expiry as a command through dispatch — the same serialization
// point sensor signals flow through, keeping ordering one-dimensional.
// Correctness against races between Cancel and an in-flight expiry doesn't
// depend on stopping the underlying time.Timer precisely: EntryMachine.Apply
// discards any CmdTimerExpired whose TimerID doesn't match its currently
// live timer, so a stale expiry that slips through is a guaranteed no-op.
type TimerService struct {
	mu       sync.Mutex
	active   map[string]*timerHandle
	dispatch func(entryPointID string, cmd MachineCommand)
	after    func(d time.Duration, f func()) *time.Timer
}

// NewTimerService constructs a TimerService that delivers expired timers to
// dispatch.
func NewTimerService(dispatch func(entryPointID string, cmd MachineCommand)) *TimerService {
	return &TimerService{
		active:   make(map[string]*timerHandle),
		dispatch: dispatch,
		after:    time.AfterFunc,
	}
}

// Start begins (or restarts) the single live timer for an entry point.
// Starting a new one cancels the previous: only pending holds a running
// timer.
func (t *TimerService) Start(entryPointID string, timerID uint64, delay time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.active[entryPointID]; ok {
		existing.timer.Stop()
		delete(t.active, entryPointID)
	}

	handle := &timerHandle{timerID: timerID, deadline: now.Add(delay)}
	handle.timer = t.after(delay, func() {
		t.dispatch(entryPointID, MachineCommand{Kind: CmdTimerExpired, TimerID: timerID})
		t.mu.Lock()
		if cur, ok := t.active[entryPointID]; ok && cur.timerID == timerID {
			delete(t.active, entryPointID)
		}
		t.mu.Unlock()
	})
	t.active[entryPointID] = handle
}

// Cancel stops the live timer for an entry point, if any.
func (t *TimerService) Cancel(entryPointID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.active[entryPointID]; ok {
		existing.timer.Stop()
		delete(t.active, entryPointID)
	}
}

// CancelAll stops every live timer — used when the coordinator disarms.
func (t *TimerService) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, h := range t.active {
		h.timer.Stop()
		delete(t.active, id)
	}
}

// RemainingFor reports the wall-clock delay remaining for an entry point's
// live timer, or 0 if none is running.
func (t *TimerService) RemainingFor(entryPointID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.active[entryPointID]
	if !ok {
		return 0
	}
	rem := h.deadline.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}
