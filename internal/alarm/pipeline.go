package alarm

import "time"

// ProcessedSignal is everything Process reports back about one signal's
// trip through the pipeline.
type ProcessedSignal struct {
	Signal       Signal
	Filtered     bool
	FilterReason string
	Evidence     Evidence
	Route        RouteDecision
	Transition   MachineResult
	EventID      string
	Assessment   AlertAssessment
}

// Process implements the external process(signal, access_decision) entry
// point, composing the pipeline in data-flow order: debounce -> evidence ->
// direction inference (as a side-listener) -> router -> coordinator dispatch
// -> alert calculator. Every step here is synchronous and CPU-only; only
// the event log publish inside dispatch's transition side effects is
// asynchronous-safe (non-blocking).
func (c *Coordinator) Process(sig Signal, accessDecision AccessDecision, now time.Time) ProcessedSignal {
	debounce, evidenceBuilder, direction, router, topology := c.components()

	entryPointID := sig.EntryPointID
	if entryPointID == "" {
		entryPointID = globalEntryPointID
	}

	bypass := false
	if ep, ok := topology.EntryPoint(entryPointID); ok {
		bypass = ep.Bypassed(sig.SensorID)
	}

	result := debounce.Evaluate(sig, bypass)
	sig.Filtered = !result.Accepted
	sig.FilterReason = result.Reason

	ev := evidenceBuilder.Build(sig, topology)

	houseMode, userMode := c.Modes()

	if (sig.Type == SignalDoorOpen || sig.Type == SignalWindowOpen) && sig.FromInside == nil {
		window := c.cfg.DirectionWindow
		if houseMode == ModeNightOccupied {
			window = c.cfg.NightContextWindow
		}
		inferred := direction.InferWithWindow(sig.Timestamp, window)
		sig.FromInside = &inferred
		ev.Signal = sig
	}

	if !sig.Filtered {
		direction.Observe(ev)
	}

	if sig.Filtered {
		return ProcessedSignal{Signal: sig, Filtered: true, FilterReason: sig.FilterReason, Evidence: ev}
	}

	authorized := accessDecision == AccessAuthorized
	if accessDecision == AccessUnspecified {
		authorized = topology.AuthorizedFor(entryPointID, now)
	}

	var entryDelayOverride *time.Duration
	if ep, ok := topology.EntryPoint(entryPointID); ok {
		if d, ok2 := ep.EntryDelayFor(houseMode); ok2 {
			entryDelayOverride = &d
		}
	}

	fromInside := false
	if sig.FromInside != nil {
		fromInside = *sig.FromInside
	}

	route := router.Route(RouteInput{
		Evidence:           ev,
		HouseMode:          houseMode,
		UserMode:           userMode,
		FromInside:         fromInside,
		AccessAuthorized:   authorized,
		EntryDelayOverride: entryDelayOverride,
	}, now)

	cmd := MachineCommand{Kind: CmdAcceptSignal, Target: route.Target, Delay: route.Delay, Evidence: ev}
	transition := c.dispatch(entryPointID, cmd, now)

	assessment := Assess(AlertAssessmentInput{
		Workflow:     route.Workflow,
		State:        transition.To,
		HouseMode:    houseMode,
		NightSubMode: userMode,
		Disposition:  dispositionFor(transition),
		AVSLevel:     avsFromPayload(sig),
	})

	return ProcessedSignal{
		Signal:     sig,
		Filtered:   false,
		Evidence:   ev,
		Route:      route,
		Transition: transition,
		EventID:    transition.OpenEventID,
		Assessment: assessment,
	}
}

func dispositionFor(t MachineResult) EventDisposition {
	if t.SealedEvent != nil {
		switch t.SealedEvent.EndReason {
		case EndCanceled:
			return DispositionCanceled
		case EndResolved:
			return DispositionResolved
		}
	}
	return DispositionActive
}

func avsFromPayload(sig Signal) int {
	if sig.RawPayload == nil {
		return 0
	}
	switch v := sig.RawPayload["avs"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
