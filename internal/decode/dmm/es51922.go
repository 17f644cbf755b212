package dmm

import (
	"math"

	"github.com/w1sig/sigtap/internal/unit"
)

// ES51922 packet layout (14 bytes). This family diverges from the
// other three in how it selects scale and mode: rather than one-hot
// bit flags it carries an explicit mode index and an explicit range
// index, each 0..7, which together select one cell of a fixed 8x8
// scale-factor table, unique to this family.
//
//	[0]     sign, ASCII '+' or '-'
//	[1..5]  five ASCII digit characters '0'-'9', MSD first
//	[6]     mode index, 0..7 (row into es51922ScaleTable / es51922ModeUnit)
//	[7]     range index, 0..7 (column into es51922ScaleTable)
//	[8]     flag bits, shared layout (see resolveFlags in dmm.go);
//	        unlike the other three families, AC and DC together is
//	        valid and preserved here rather than rejected
//	[9..11] reserved, must be zero
//	[12]    '\r'
//	[13]    '\n'
//
// The over-limit sentinel is the literal numeric value 22580 in the
// digit field, not a structural byte pattern.
const module51922 = "es51922"

const es51922OverLimitValue = 22580

var es51922ModeUnit = [8]struct {
	mq unit.MeasuredQuantity
	u  unit.Unit
}{
	{unit.Voltage, unit.Volt},
	{unit.Current, unit.Ampere},
	{unit.Resistance, unit.Ohm},
	{unit.Capacitance, unit.Farad},
	{unit.Frequency, unit.Hertz},
	{unit.DutyCycle, unit.Percent},
	{unit.Diode, unit.Volt},
	{unit.Continuity, unit.Boolean},
}

// es51922ScaleTable[mode][range] is the multiplier applied to the raw
// decimal value for that (mode, range) combination. Rows follow
// es51922ModeUnit; columns are the instrument's own autorange steps,
// smallest multiplier first. The table's contents are this decoder's
// own reconstruction; only its existence and indexing are fixed by
// the family's byte layout.
var es51922ScaleTable = [8][8]float64{
	{1e-3, 1e-2, 1e-1, 1, 1e1, 1e2, 1e3, 1},          // volt
	{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, 1},       // amp
	{1e-1, 1, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6},          // ohm
	{1e-9, 1e-8, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2}, // farad
	{1e-2, 1e-1, 1, 1e1, 1e2, 1e3, 1e4, 1e5},         // hertz
	{1, 1, 1, 1, 1, 1, 1, 1},                         // duty cycle, always percent
	{1e-3, 1e-3, 1e-3, 1e-3, 1e-3, 1e-3, 1e-3, 1e-3}, // diode, always millivolt
	{1, 1, 1, 1, 1, 1, 1, 1},                         // continuity, unscaled
}

func isES51922OverLimit(buf []byte) bool {
	magnitude := int64(0)
	for i := 1; i <= 5; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			return false
		}
		magnitude = magnitude*10 + int64(buf[i]-'0')
	}
	return magnitude == es51922OverLimitValue
}

// ES51922Valid checks the structural bytes of an ES51922 packet.
func ES51922Valid(buf []byte) bool {
	if len(buf) != PacketLen {
		return false
	}
	if buf[0] != '+' && buf[0] != '-' {
		return false
	}
	if buf[12] != '\r' || buf[13] != '\n' {
		return false
	}
	if buf[9] != 0 || buf[10] != 0 || buf[11] != 0 {
		return false
	}
	for i := 1; i <= 5; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			return false
		}
	}
	if buf[6] > 7 || buf[7] > 7 {
		return false
	}
	return true
}

// ES51922Parse decodes a valid ES51922 packet into a Reading.
func ES51922Parse(buf []byte) (Reading, error) {
	if !ES51922Valid(buf) {
		return Reading{}, dataErr(module51922, "invalid packet structure")
	}

	var value float64
	if isES51922OverLimit(buf) {
		value = math.Inf(1)
	} else {
		magnitude := int64(0)
		for i := 1; i <= 5; i++ {
			magnitude = magnitude*10 + int64(buf[i]-'0')
		}
		value = float64(magnitude)
		if buf[0] == '-' {
			value = -value
		}
	}

	mode, rng := int(buf[6]), int(buf[7])
	value *= es51922ScaleTable[mode][rng]

	entry := es51922ModeUnit[mode]
	var modeFlags unit.Flag
	if mode == 6 { // diode
		modeFlags |= unit.FlagDiode
	}
	if mode == 7 { // continuity
		if value < 0 {
			value = 0.0
		} else {
			value = 1.0
		}
	}

	flags, err := resolveFlags(module51922, buf[8], true)
	if err != nil {
		return Reading{}, err
	}
	flags |= modeFlags

	return Reading{Value: value, MQ: entry.mq, Unit: entry.u, Flags: flags}, nil
}
