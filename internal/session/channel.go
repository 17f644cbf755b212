package session

import "github.com/w1sig/sigtap/internal/trigger"

// ChannelKind distinguishes logic channels (packed into Sample Units)
// from analog channels (one float per sample).
type ChannelKind int

const (
	Logic ChannelKind = iota
	Analog
)

// Channel is a named signal, created once during decoder header parse
// and owned by the session for its duration. Index is dense and
// 0-based within its Kind; it is the bit position used by LOGIC
// sample units for Logic channels.
type Channel struct {
	Index       int
	Kind        ChannelKind
	Enabled     bool
	Name        string
	TriggerSpec *trigger.StageMatch // optional, nil if this channel carries no trigger condition of its own
}

// Group is an ordered set of channels sharing a semantic unit (a VCD
// multi-bit vector, a bus). It exists only for display; it has no
// effect on the sample feed.
type Group struct {
	Name     string
	Channels []*Channel
}

// LogicUnitSize returns ceil(n/8) for n enabled logic channels, the
// width in bytes of one packed Sample Unit.
func LogicUnitSize(channels []*Channel) int {
	n := 0
	for _, c := range channels {
		if c.Kind == Logic && c.Enabled {
			n++
		}
	}
	return (n + 7) / 8
}
