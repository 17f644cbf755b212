package dmm

import "math"

// FS9721 packet layout (14 bytes), this module's own reconstruction of
// the family's byte layout:
//
//	[0]     start marker, bit7 set
//	[1..4]  four 7-segment-encoded digit bytes, MSD first
//	[5]     bit0 sign (1 = negative); bits1-3 decimal point position
//	        (0..3, counted from the right of the 4-digit field)
//	[6]     scale bits, shared layout (see scaleBits in dmm.go)
//	[7]     mode bits, shared layout (see resolveMode in dmm.go)
//	[8]     flag bits, shared layout (see resolveFlags in dmm.go)
//	[9..11] reserved, must be zero
//	[12]    reserved, must be zero
//	[13]    terminator, must be 0x00
//
// The over-limit sentinel is the fixed digit-field byte sequence
// 0x00 0x7d 0x68 0x00, checked before any segment-table lookup.
// Continuity here derives from value < 0; fs9922.go derives it from
// value == +Inf instead, and the two are deliberately not unified.
var fs9721OverLimit = [4]byte{0x00, 0x7d, 0x68, 0x00}

// fs9721Segments maps a standard 7-segment bit pattern (bit0=a ... bit6=g)
// to its digit.
var fs9721Segments = map[byte]int{
	0x3f: 0, 0x06: 1, 0x5b: 2, 0x4f: 3, 0x66: 4,
	0x6d: 5, 0x7d: 6, 0x07: 7, 0x7f: 8, 0x6f: 9,
}

func isFS9721OverLimit(buf []byte) bool {
	return buf[1] == fs9721OverLimit[0] && buf[2] == fs9721OverLimit[1] &&
		buf[3] == fs9721OverLimit[2] && buf[4] == fs9721OverLimit[3]
}

// FS9721Valid checks the structural bytes of an FS9721 packet.
func FS9721Valid(buf []byte) bool {
	if len(buf) != PacketLen {
		return false
	}
	if buf[0]&0x80 == 0 {
		return false
	}
	if buf[13] != 0x00 || buf[12] != 0x00 {
		return false
	}
	if buf[9] != 0 || buf[10] != 0 || buf[11] != 0 {
		return false
	}
	if _, err := scaleFactorFromMap(scaleBits(buf[6])); err != nil {
		return false
	}
	if !isFS9721OverLimit(buf) {
		for i := 1; i <= 4; i++ {
			if _, ok := fs9721Segments[buf[i]]; !ok {
				return false
			}
		}
	}
	return modeByteValid(buf[7])
}

// FS9721Parse decodes a valid FS9721 packet into a Reading.
func FS9721Parse(buf []byte) (Reading, error) {
	const module = "fs9721"
	if !FS9721Valid(buf) {
		return Reading{}, dataErr(module, "invalid packet structure")
	}

	var value float64
	if isFS9721OverLimit(buf) {
		value = math.Inf(1)
	} else {
		magnitude := int64(0)
		for i := 1; i <= 4; i++ {
			d, ok := fs9721Segments[buf[i]]
			if !ok {
				return Reading{}, dataErrf(module, "byte %d is not a valid 7-segment code: %#x", i, buf[i])
			}
			magnitude = magnitude*10 + int64(d)
		}
		dp := int((buf[5] >> 1) & 0x07)
		if dp > 3 {
			return Reading{}, dataErrf(module, "decimal point position %d out of range", dp)
		}
		value = applyDecimalPoint(magnitude, dp)
		if buf[5]&0x01 != 0 {
			value = -value
		}
	}

	sf, err := resolveScale(buf[6], module)
	if err != nil {
		return Reading{}, err
	}
	value *= sf.Multiplier()

	mq, u, modeFlags, value, err := resolveMode(module, buf[7], value, continuityFromNegative)
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
