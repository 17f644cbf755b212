package dmm

import (
	"math"
	"strings"
)

// Metex-14 packet layout (14 bytes):
//
//	[0]     sign, ASCII '+' or '-'
//	[1..5]  five ASCII bytes: either all digits '0'-'9' (MSD first), or
//	        the over-limit sentinel text "OL" or "O.L", space-padded
//	        on the right to fill the field
//	[6]     decimal point position, 0..4, counted from the right of
//	        the 5-digit field (meaningless when over-limit)
//	[7]     scale bits, shared layout (see scaleBits in dmm.go)
//	[8]     mode bits, shared layout (see resolveMode in dmm.go)
//	[9]     flag bits, shared layout (see resolveFlags in dmm.go)
//	[10..11] reserved, must be zero
//	[12]    '\r'
//	[13]    reserved, must be zero
//
// The over-limit sentinel is textual rather than a fixed byte pattern
// ("OL" or "O.L"), so it is checked by trimming trailing padding
// spaces and comparing against both accepted spellings before the
// digit-field scan runs.
const module14 = "metex14"

func metex14Sentinel(buf []byte) (string, bool) {
	trimmed := strings.TrimRight(string(buf[1:6]), " ")
	if trimmed == "OL" || trimmed == "O.L" {
		return trimmed, true
	}
	return "", false
}

// Metex14Valid checks the structural bytes of a Metex-14 packet.
func Metex14Valid(buf []byte) bool {
	if len(buf) != PacketLen {
		return false
	}
	if buf[0] != '+' && buf[0] != '-' {
		return false
	}
	if buf[12] != '\r' || buf[13] != 0x00 {
		return false
	}
	if buf[10] != 0 || buf[11] != 0 {
		return false
	}
	if _, ok := metex14Sentinel(buf); !ok {
		for i := 1; i <= 5; i++ {
			if buf[i] < '0' || buf[i] > '9' {
				return false
			}
		}
		if buf[6] > 4 {
			return false
		}
	}
	if _, err := scaleFactorFromMap(scaleBits(buf[7])); err != nil {
		return false
	}
	return modeByteValid(buf[8])
}

// Metex14Parse decodes a valid Metex-14 packet into a Reading.
func Metex14Parse(buf []byte) (Reading, error) {
	if !Metex14Valid(buf) {
		return Reading{}, dataErr(module14, "invalid packet structure")
	}

	var value float64
	if _, over := metex14Sentinel(buf); over {
		value = math.Inf(1)
	} else {
		magnitude := int64(0)
		for i := 1; i <= 5; i++ {
			magnitude = magnitude*10 + int64(buf[i]-'0')
		}
		value = applyDecimalPoint(magnitude, int(buf[6]))
		if buf[0] == '-' {
			value = -value
		}
	}

	sf, err := resolveScale(buf[7], module14)
	if err != nil {
		return Reading{}, err
	}
	value *= sf.Multiplier()

	mq, u, modeFlags, value, err := resolveMode(module14, buf[8], value, continuityFromNegative)
	if err != nil {
		return Reading{}, err
	}

	flags, err := resolveFlags(module14, buf[9], false)
	if err != nil {
		return Reading{}, err
	}
	flags |= modeFlags

	return Reading{Value: value, MQ: mq, Unit: u, Flags: flags}, nil
}
