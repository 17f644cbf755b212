// Package trigger implements the soft-trigger engine: a multi-stage
// logic condition evaluated in software over the emitted sample
// stream, backed by a fixed-capacity pre-trigger ring.
//
// The stage-rewind behavior (a partially matched sequence that fails
// on its last stage must still be retried one position later, so
// "0001" is found inside "00001") is modeled as a
// small set of concurrently in-flight match attempts rather than an
// explicit rewind-and-replay: a fresh attempt starts at stage 0 on
// every sample regardless of whether older attempts are still alive,
// so a failed attempt never suppresses a later one that starts inside
// its own window. This gives the same result as an explicit rewind
// without needing to re-scan already-consumed samples.
package trigger

import "github.com/w1sig/sigtap/internal/sigerr"

// Condition is one edge/level test applied to a single channel.
type Condition int

const (
	Zero Condition = iota
	One
	Rising
	Falling
	Either
)

// StageMatch pairs a channel index with the condition it must satisfy.
type StageMatch struct {
	Channel   int
	Condition Condition
}

// Stage is the AND of its Matches; all must hold for the stage to advance.
type Stage struct {
	Matches []StageMatch
}

// Spec is an ordered sequence of stages plus the pre-trigger window depth.
type Spec struct {
	Stages            []Stage
	PreTriggerSamples int
}

// EventKind distinguishes the two things an Engine can ask the caller
// to emit.
type EventKind int

const (
	EventForward EventKind = iota
	EventTrigger
)

// Event is one unit to forward, or the trigger marker itself, in the
// order they must reach the feed queue.
type Event struct {
	Kind EventKind
	Unit []byte
}

// Engine scans a stream of fixed-width logic sample units, looking for
// a complete match of Spec.Stages, while retaining a bounded
// pre-trigger history.
type Engine struct {
	spec     Spec
	unitSize int
	enabled  []bool

	attempts []int // in-flight match attempts, each a stage-count reached
	prev     []byte
	hasPrev  bool

	ring [][]byte // pre-trigger retention, oldest first, len <= PreTriggerSamples
	fired bool
}

// New validates spec against unitSize*8 available channel bits, keeps
// the enabled-channel mask for match evaluation, then returns a ready
// Engine.
func New(spec Spec, unitSize int, enabled []bool) (*Engine, error) {
	if unitSize <= 0 {
		return nil, sigerr.New(sigerr.Arg, "trigger", "unit size must be positive")
	}
	if len(spec.Stages) == 0 {
		return nil, sigerr.New(sigerr.Arg, "trigger", "spec has no stages")
	}
	for i, st := range spec.Stages {
		if len(st.Matches) == 0 {
			return nil, sigerr.Newf(sigerr.Arg, "trigger", "stage %d has no matches", i)
		}
		for _, m := range st.Matches {
			if m.Channel < 0 || m.Channel >= unitSize*8 {
				return nil, sigerr.Newf(sigerr.Arg, "trigger", "stage %d channel %d outside %d available bits", i, m.Channel, unitSize*8)
			}
		}
	}
	if spec.PreTriggerSamples < 0 {
		return nil, sigerr.New(sigerr.Arg, "trigger", "pre-trigger depth must be non-negative")
	}
	return &Engine{
		spec:     spec,
		unitSize: unitSize,
		enabled:  enabled,
	}, nil
}

// Fired reports whether the trigger has already fired this session.
func (e *Engine) Fired() bool { return e.fired }

func getBit(sample []byte, ch int) bool {
	byteIdx := ch / 8
	if byteIdx >= len(sample) {
		return false
	}
	return sample[byteIdx]>>uint(ch%8)&1 == 1
}

func (e *Engine) channelEnabled(ch int) bool {
	if ch < 0 || ch >= len(e.enabled) {
		return true
	}
	return e.enabled[ch]
}

func (e *Engine) evalMatch(m StageMatch, sample []byte) bool {
	if !e.channelEnabled(m.Channel) {
		return true // disabled channels are ignored, not a blocking failure
	}
	cur := getBit(sample, m.Channel)
	switch m.Condition {
	case Zero:
		return !cur
	case One:
		return cur
	case Rising:
		return e.hasPrev && !getBit(e.prev, m.Channel) && cur
	case Falling:
		return e.hasPrev && getBit(e.prev, m.Channel) && !cur
	case Either:
		return e.hasPrev && getBit(e.prev, m.Channel) != cur
	default:
		return false
	}
}

func (e *Engine) evalStage(stage Stage, sample []byte) bool {
	for _, m := range stage.Matches {
		if !e.evalMatch(m, sample) {
			return false
		}
	}
	return true
}

func (e *Engine) pushRing(sample []byte) {
	if e.spec.PreTriggerSamples <= 0 {
		return
	}
	cp := make([]byte, len(sample))
	copy(cp, sample)
	e.ring = append(e.ring, cp)
	if len(e.ring) > e.spec.PreTriggerSamples {
		e.ring = e.ring[1:]
	}
}

func (e *Engine) drainRing() []Event {
	events := make([]Event, 0, len(e.ring)+1)
	for _, u := range e.ring {
		events = append(events, Event{Kind: EventForward, Unit: u})
	}
	e.ring = nil
	return events
}

// Feed advances the engine by one sample unit. It returns the events
// the caller must forward to the feed queue, in order: zero events
// while the engine is still accumulating a pre-trigger window with no
// match yet, the drained pre-trigger window followed by a single
// EventTrigger the instant the final stage matches, or a single
// pass-through EventForward for every unit once the trigger has fired.
func (e *Engine) Feed(unit []byte) []Event {
	sample := make([]byte, e.unitSize)
	copy(sample, unit)

	if e.fired {
		return []Event{{Kind: EventForward, Unit: sample}}
	}

	fires := false
	next := e.attempts[:0]
	for _, count := range e.attempts {
		if e.evalStage(e.spec.Stages[count], sample) {
			count++
			if count == len(e.spec.Stages) {
				fires = true
				break
			}
			next = append(next, count)
		}
	}
	if !fires && e.evalStage(e.spec.Stages[0], sample) {
		if len(e.spec.Stages) == 1 {
			fires = true
		} else {
			next = append(next, 1)
		}
	}
	e.attempts = next

	e.pushRing(sample)
	e.hasPrev = true
	e.prev = sample

	if fires {
		e.fired = true
		events := e.drainRing()
		events = append(events, Event{Kind: EventTrigger})
		return events
	}
	return nil
}

// Reset clears match progress and the pre-trigger ring, preserving the
// spec and channel mask, for reuse across a new session.
func (e *Engine) Reset() {
	e.attempts = nil
	e.prev = nil
	e.hasPrev = false
	e.ring = nil
	e.fired = false
}
