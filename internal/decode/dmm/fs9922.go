package dmm

import "math"

// FS9922 packet layout (14 bytes):
//
//	[0]     sign, ASCII '+' or '-' (alphabet check: nothing else is valid)
//	[1..4]  four ASCII digit characters '0'-'9', MSD first
//	[5]     decimal point position, 0..3, counted from the right
//	[6]     scale bits, shared layout (see scaleBits in dmm.go)
//	[7]     mode bits, shared layout (see resolveMode in dmm.go)
//	[8]     flag bits, shared layout (see resolveFlags in dmm.go)
//	[9..11] reserved, must be zero
//	[12]    '\r'
//	[13]    '\n'
//
// Over-limit sentinel: buf[1..4] literally spells "?0:?". FS9922's
// continuity mode is this family's one observed divergence from
// FS9721: it derives continuity from value == +Inf rather than
// value < 0, and that per-decoder behavior is preserved here rather
// than unified.
var fs9922OverLimit = [4]byte{'?', '0', ':', '?'}

func isOverLimit9922(buf []byte) bool {
	return buf[1] == fs9922OverLimit[0] && buf[2] == fs9922OverLimit[1] &&
		buf[3] == fs9922OverLimit[2] && buf[4] == fs9922OverLimit[3]
}

// FS9922Valid checks the structural bytes of an FS9922 packet.
func FS9922Valid(buf []byte) bool {
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
	if !isOverLimit9922(buf) {
		for i := 1; i <= 4; i++ {
			if buf[i] < '0' || buf[i] > '9' {
				return false
			}
		}
	}
	if buf[5] > 3 {
		return false
	}
	if _, err := scaleFactorFromMap(scaleBits(buf[6])); err != nil {
		return false
	}
	return modeByteValid(buf[7])
}

// FS9922Parse decodes a valid FS9922 packet into a Reading.
func FS9922Parse(buf []byte) (Reading, error) {
	const module = "fs9922"
	if !FS9922Valid(buf) {
		return Reading{}, dataErr(module, "invalid packet structure")
	}

	var value float64
	if isOverLimit9922(buf) {
		value = math.Inf(1)
	} else {
		magnitude := int64(0)
		for i := 1; i <= 4; i++ {
			magnitude = magnitude*10 + int64(buf[i]-'0')
		}
		value = applyDecimalPoint(magnitude, int(buf[5]))
		if buf[0] == '-' {
			value = -value
		}
	}

	sf, err := resolveScale(buf[6], module)
	if err != nil {
		return Reading{}, err
	}
	value *= sf.Multiplier()

	mq, u, modeFlags, value, err := resolveMode(module, buf[7], value, continuityFromInf)
	if err != nil {
		return Reading{}, err
	}

	flags, err := resolveFlags(module, buf[8], false)
	if err != nil {
		return Reading{}, err
	}
	flags |= modeFlags

	return Reading{Value: value, MQ: mq, Unit: u, Flags: flags}, nil
}
