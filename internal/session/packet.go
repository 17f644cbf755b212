// Package session implements the session packet data model and the
// Session Coordinator: the single point through which HEADER, META,
// LOGIC, ANALOG, TRIGGER, FRAME_BEGIN/END and END packets reach a
// session's one consumer callback.
package session

import (
	"time"

	"github.com/w1sig/sigtap/internal/unit"
)

// Kind tags which payload a Packet carries.
type Kind int

const (
	Header Kind = iota
	Meta
	LogicData
	AnalogData
	Trigger
	FrameBegin
	FrameEnd
	End
)

func (k Kind) String() string {
	switch k {
	case Header:
		return "HEADER"
	case Meta:
		return "META"
	case LogicData:
		return "LOGIC"
	case AnalogData:
		return "ANALOG"
	case Trigger:
		return "TRIGGER"
	case FrameBegin:
		return "FRAME_BEGIN"
	case FrameEnd:
		return "FRAME_END"
	case End:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// HeaderPayload carries the one-time session header.
type HeaderPayload struct {
	FeedVersion    int
	WallClockStart time.Time
}

// MetaPayload carries a single key/value pair, e.g. sample rate or
// channel count.
type MetaPayload struct {
	Key   string
	Value any
}

// LogicPayload carries concatenated, packed Sample Units. len(Bytes)
// is always a multiple of UnitSize.
type LogicPayload struct {
	UnitSize int
	Bytes    []byte
}

// NumUnits returns the number of Sample Units carried.
func (p LogicPayload) NumUnits() int {
	if p.UnitSize == 0 {
		return 0
	}
	return len(p.Bytes) / p.UnitSize
}

// AnalogPayload carries NumSamples readings for each of Channels,
// interleaved sample-then-channel: Values[s*len(Channels)+c].
type AnalogPayload struct {
	Channels   []int
	Values     []float32
	MQ         unit.MeasuredQuantity
	Unit       unit.Unit
	Flags      unit.Flag
	NumSamples int
}

// Packet is the tagged variant delivered to the consumer callback.
type Packet struct {
	Kind   Kind
	Header HeaderPayload
	Meta   MetaPayload
	Logic  LogicPayload
	Analog AnalogPayload
}
