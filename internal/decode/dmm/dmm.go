// Package dmm implements the four fixed-length DMM packet decoders:
// FS9721, FS9922, Metex-14 and ES51922. Each exposes Valid(buf) and
// Parse(buf) over a 14-byte packet and shares the same parsing
// contract:
//
//  1. extract a signed integer magnitude from the digit field, with a
//     family-specific sentinel standing for "over limit" (+Inf);
//  2. apply the decimal-point position as a division by a power of ten;
//  3. apply the sign;
//  4. resolve exactly one scale factor from the flag bits;
//  5. resolve exactly one measurement mode (with the volt+diode
//     exception) to a (MeasuredQuantity, Unit) pair;
//  6. copy the non-exclusive AC/DC/AUTO/HOLD/MAX/MIN/REL/DIODE bits
//     into the flag set.
//
// Per-packet parse failures are non-fatal to a session: the caller
// skips the bad packet and logs it, it does not end the session.
package dmm

import (
	"math"

	"github.com/w1sig/sigtap/internal/sigerr"
	"github.com/w1sig/sigtap/internal/unit"
)

// PacketLen is the fixed packet size every DMM family in this package
// uses.
const PacketLen = 14

// Reading is the scalar result of parsing one DMM packet.
type Reading struct {
	Value float64
	MQ    unit.MeasuredQuantity
	Unit  unit.Unit
	Flags unit.Flag
}

func dataErr(module, msg string) error { return sigerr.New(sigerr.Data, module, msg) }

func dataErrf(module, format string, args ...any) error {
	return sigerr.Newf(sigerr.Data, module, format, args...)
}

// applyDecimalPoint divides magnitude by 10^dpFromRight, where
// dpFromRight counts digit positions from the right of a 4-digit field
// (0 = point after the last digit, i.e. no division).
func applyDecimalPoint(magnitude int64, dpFromRight int) float64 {
	return float64(magnitude) / math.Pow10(dpFromRight)
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func scaleFactorFromMap(m map[unit.ScaleFactor]bool) (unit.ScaleFactor, error) {
	return unit.FromSingleBit(m)
}

// scaleBits maps the five low bits of a scale byte to ScaleFactor,
// the shared layout FS9721, FS9922 and Metex-14 use (ES51922 selects
// its scale from a range table instead).
func scaleBits(b byte) map[unit.ScaleFactor]bool {
	return map[unit.ScaleFactor]bool{
		unit.Nano:  b&(1<<0) != 0,
		unit.Micro: b&(1<<1) != 0,
		unit.Milli: b&(1<<2) != 0,
		unit.Kilo:  b&(1<<3) != 0,
		unit.Mega:  b&(1<<4) != 0,
	}
}

func resolveScale(b byte, module string) (unit.ScaleFactor, error) {
	sf, err := scaleFactorFromMap(scaleBits(b))
	if err != nil {
		return unit.Unit1, dataErr(module, err.Error())
	}
	return sf, nil
}

// modeByteValid reports whether a mode byte (bits: 0 volt, 1 amp,
// 2 ohm, 3 duty%, 4 hz, 5 farad, 6 continuity/diode; bit 7 is
// ignored) selects at most one mode, with volt+bit 6 allowed as the
// valid diode-test mode.
func modeByteValid(mode byte) bool {
	mode &= 0x7f
	volt, diode := mode&0x01 != 0, mode&0x40 != 0
	n := popcount(mode)
	return n <= 1 || (n == 2 && volt && diode)
}

// continuityRule selects which observed-divergent rule a decoder uses
// to turn a raw value into the boolean continuity reading.
type continuityRule int

const (
	continuityFromNegative continuityRule = iota // FS9721: value < 0 -> 0, else 1
	continuityFromInf                            // FS9922: value == +Inf -> 0, else 1
)

// resolveMode maps a mode byte plus the raw decoded value to a
// (MeasuredQuantity, Unit, Flag, value) tuple, applying the shared
// bit layout used by FS9721, FS9922 and Metex-14.
func resolveMode(module string, mode byte, value float64, rule continuityRule) (unit.MeasuredQuantity, unit.Unit, unit.Flag, float64, error) {
	mode &= 0x7f
	if !modeByteValid(mode) {
		return 0, 0, 0, 0, dataErr(module, "more than one measurement mode bit set")
	}
	switch {
	case mode&0x01 != 0 && mode&0x40 != 0:
		return unit.Diode, unit.Volt, unit.FlagDiode, value, nil
	case mode&0x01 != 0:
		return unit.Voltage, unit.Volt, 0, value, nil
	case mode&0x02 != 0:
		return unit.Current, unit.Ampere, 0, value, nil
	case mode&0x04 != 0:
		return unit.Resistance, unit.Ohm, 0, value, nil
	case mode&0x08 != 0:
		return unit.DutyCycle, unit.Percent, 0, value, nil
	case mode&0x10 != 0:
		return unit.Frequency, unit.Hertz, 0, value, nil
	case mode&0x20 != 0:
		return unit.Capacitance, unit.Farad, 0, value, nil
	case mode&0x40 != 0:
		isInf := math.IsInf(value, 1)
		switch rule {
		case continuityFromInf:
			if isInf {
				value = 0.0
			} else {
				value = 1.0
			}
		default:
			if value < 0 {
				value = 0.0
			} else {
				value = 1.0
			}
		}
		return unit.Continuity, unit.Boolean, 0, value, nil
	default:
		return 0, 0, 0, 0, dataErr(module, "no measurement mode bit set")
	}
}

// resolveFlags copies the non-exclusive AC/DC/AUTO/HOLD/MAX/MIN/REL
// bits (layout: 0 AC, 1 DC, 2 auto, 3 hold, 4 max, 5 min, 6 rel) into a
// Flag set. AC and DC together is an error unless allowBothACDC is set
// (ES51922, which preserves it).
func resolveFlags(module string, flagByte byte, allowBothACDC bool) (unit.Flag, error) {
	var flags unit.Flag
	ac, dc := flagByte&0x01 != 0, flagByte&0x02 != 0
	if ac && dc && !allowBothACDC {
		return 0, dataErr(module, "AC and DC both set")
	}
	if ac {
		flags |= unit.FlagAC
	}
	if dc {
		flags |= unit.FlagDC
	}
	if flagByte&0x04 != 0 {
		flags |= unit.FlagAutorange
	}
	if flagByte&0x08 != 0 {
		flags |= unit.FlagHold
	}
	if flagByte&0x10 != 0 {
		flags |= unit.FlagMax
	}
	if flagByte&0x20 != 0 {
		flags |= unit.FlagMin
	}
	if flagByte&0x40 != 0 {
		flags |= unit.FlagRelative
	}
	return flags, nil
}
