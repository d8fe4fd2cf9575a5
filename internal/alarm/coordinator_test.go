package alarm

import (
	"testing"
	"time"
)

func newTestCoordinator() (*Coordinator, *Topology) {
	topo := NewTopology()
	topo.SetEntryPoint(EntryPoint{ID: "ep_front", Name: "Front Door"})
	cfg := DefaultCoordinatorConfig()
	c := NewCoordinator(topo, cfg)
	return c, topo
}

func sig(t SignalType, entryPointID, sensorID string, at time.Time) Signal {
	return Signal{SignalID: "sig-" + sensorID + "-" + entryPointID, Type: t, EntryPointID: entryPointID, SensorID: sensorID, Timestamp: at}
}

func TestCoordinatorAwayDoorOpenGoesPending(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()

	c.SetModes(ModeAway, UserAlert)
	now := time.Now()
	out := c.Process(sig(SignalDoorOpen, "ep_front", "door-1", now), AccessUnspecified, now)

	if out.Transition.To != StatePending {
		t.Fatalf("expected away door-open to go pending, got %+v", out.Transition)
	}
	if out.Assessment.UserAlertLevel == 0 {
		t.Fatalf("expected a non-zero user alert level for a pending away entry")
	}
}

func TestCoordinatorDisarmedSuppressesProcessing(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()

	now := time.Now()
	out := c.Process(sig(SignalDoorOpen, "ep_front", "door-1", now), AccessUnspecified, now)
	if out.Transition.To != StateQuiet {
		t.Fatalf("expected disarmed door-open to stay quiet, got %+v", out.Transition)
	}
}

func TestCoordinatorTimerFiresAndEscalates(t *testing.T) {
	c, topo := newTestCoordinator()
	defer c.Shutdown()
	topo.SetEntryPoint(EntryPoint{ID: "ep_front", Name: "Front Door", EntryDelay: map[HouseMode]time.Duration{ModeAway: 30 * time.Millisecond}})

	c.SetModes(ModeAway, UserAlert)
	now := time.Now()
	out := c.Process(sig(SignalDoorOpen, "ep_front", "door-1", now), AccessUnspecified, now)
	if out.Transition.To != StatePending {
		t.Fatalf("expected pending with the short test delay, got %+v", out.Transition)
	}

	time.Sleep(200 * time.Millisecond)
	status := c.GetStatus()
	st, ok := status.EntryPoints["ep_front"]
	if !ok || st.State != StateTriggered {
		t.Fatalf("expected the entry point to have escalated to triggered after the delay, got %+v", status)
	}
}

func TestCoordinatorCancelSealsEvent(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()

	c.SetModes(ModeAway, UserAlert)
	now := time.Now()
	c.Process(sig(SignalDoorOpen, "ep_front", "door-1", now), AccessUnspecified, now)

	res := c.Cancel("ep_front")
	if !res.Accepted || res.To != StateQuiet {
		t.Fatalf("expected cancel to succeed and return to quiet, got %+v", res)
	}

	events := c.GetEvents(10)
	found := false
	for _, ev := range events {
		if ev.EntryPointID == "ep_front" && ev.EndReason == EndCanceled {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a canceled event to have been published to the log")
	}
}

func TestCoordinatorDisarmCancelsInFlightEvent(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()

	c.SetModes(ModeAway, UserAlert)
	now := time.Now()
	c.Process(sig(SignalDoorOpen, "ep_front", "door-1", now), AccessUnspecified, now)

	c.Disarm()

	status := c.GetStatus()
	st := status.EntryPoints["ep_front"]
	if st.State != StateQuiet {
		t.Fatalf("expected disarm to return the entry point to quiet, got %+v", st)
	}
	if status.HouseMode != ModeDisarmed {
		t.Fatalf("expected house mode disarmed, got %v", status.HouseMode)
	}
}

func TestCoordinatorResetClearsEverything(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()

	c.SetModes(ModeAway, UserAlert)
	now := time.Now()
	c.Process(sig(SignalDoorOpen, "ep_front", "door-1", now), AccessUnspecified, now)
	c.Cancel("ep_front")

	c.Reset()

	if len(c.GetEvents(10)) != 0 {
		t.Fatalf("expected the event log to be empty after reset")
	}
	status := c.GetStatus()
	if status.HouseMode != ModeDisarmed {
		t.Fatalf("expected disarmed house mode after reset, got %v", status.HouseMode)
	}
}

func TestCoordinatorUpdateTopologyReinitializesDebounce(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()
	c.SetModes(ModeAway, UserAlert)

	// Debounce rules are keyed on SensorType, so these signals must carry it.
	doorSig := func(st SignalType, at time.Time) Signal {
		s := sig(st, "ep_front", "door-1", at)
		s.SensorType = SensorDoorContact
		return s
	}

	now := time.Now()
	c.Process(doorSig(SignalDoorOpen, now), AccessUnspecified, now)
	c.Process(doorSig(SignalDoorClose, now.Add(time.Second)), AccessUnspecified, now.Add(time.Second))
	// Third transition within the bounce window would normally be rejected.
	blocked := c.Process(doorSig(SignalDoorOpen, now.Add(2*time.Second)), AccessUnspecified, now.Add(2*time.Second))
	if !blocked.Filtered {
		t.Fatalf("sanity: expected the third rapid transition to be debounce-filtered")
	}

	newTopo := NewTopology()
	newTopo.SetEntryPoint(EntryPoint{ID: "ep_front", Name: "Front Door"})
	c.UpdateTopology(newTopo)

	accepted := c.Process(doorSig(SignalDoorOpen, now.Add(3*time.Second)), AccessUnspecified, now.Add(3*time.Second))
	if accepted.Filtered {
		t.Fatalf("expected fresh debounce state after UpdateTopology, got filtered signal")
	}
}

func TestCoordinatorGlassBreakTriggersImmediatelyEvenWithoutPending(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()
	c.SetModes(ModeAway, UserAlert)

	now := time.Now()
	out := c.Process(sig(SignalGlassBreak, "ep_front", "glass-1", now), AccessUnspecified, now)
	if out.Transition.To != StateTriggered {
		t.Fatalf("expected immediate trigger on glass-break, got %+v", out.Transition)
	}
	if out.Assessment.Recommendation != RecommendContinueVerify && out.Assessment.Recommendation != RecommendCallForService {
		t.Fatalf("expected a dispatch recommendation for an immediate security trigger, got %v", out.Assessment.Recommendation)
	}
}

func TestResultErrorMapsRejectedCommandsToSentinels(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Shutdown()

	// Quiet machine: cancel is invalid from quiet (only pre/pending).
	res := c.Cancel("ep_front")
	if err := ResultError(res); err != ErrCancelInvalidState {
		t.Fatalf("expected ErrCancelInvalidState, got %v", err)
	}

	// Quiet machine: resolve is invalid from quiet (only triggered).
	res = c.Resolve("ep_front")
	if err := ResultError(res); err != ErrResolveInvalidState {
		t.Fatalf("expected ErrResolveInvalidState, got %v", err)
	}

	c.SetModes(ModeAway, UserAlert)
	now := time.Now()
	c.Process(sig(SignalGlassBreak, "ep_front", "glass-1", now), AccessUnspecified, now)
	accepted := c.Resolve("ep_front")
	if err := ResultError(accepted); err != nil {
		t.Fatalf("expected a valid resolve from triggered to report no error, got %v", err)
	}
}
