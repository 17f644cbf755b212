package stf

import "github.com/w1sig/sigtap/internal/sigerr"

// lzo1xDecompress implements the LZO1X-1 decompression algorithm (the
// one compressor/decompressor pair STF records use). No LZO library
// exists anywhere in the reference corpus this module was built
// against, and the wire format names LZO1x explicitly in its record
// layout, so the block-copy state machine below is written from the
// public algorithm description rather than adapted from an existing
// dependency.
//
// It decodes the op-code stream: literal runs, four back-reference
// encodings (labelled "M1" to "M4" below) each carrying a trailing
// literal-run count in its low bits, and the zero-distance M3
// end-of-stream marker.
func lzo1xDecompress(src []byte, dstCap int) ([]byte, error) {
	dst := make([]byte, 0, dstCap)
	ip, n := 0, len(src)

	readByte := func() (int, error) {
		if ip >= n {
			return 0, sigerr.New(sigerr.Data, module, "lzo: truncated stream")
		}
		b := int(src[ip])
		ip++
		return b, nil
	}

	readExtra := func(base int) (int, error) {
		count := 0
		for {
			b, err := readByte()
			if err != nil {
				return 0, err
			}
			if b != 0 {
				return base + count + b, nil
			}
			count += 255
		}
	}

	appendLiteral := func(length int) error {
		if length < 0 || ip+length > n {
			return sigerr.New(sigerr.Data, module, "lzo: literal run exceeds input")
		}
		dst = append(dst, src[ip:ip+length]...)
		ip += length
		if len(dst) > dstCap {
			return sigerr.New(sigerr.Data, module, "lzo: decompressed payload exceeds bound")
		}
		return nil
	}

	appendMatch := func(distance, length int) error {
		if distance <= 0 || distance > len(dst) {
			return sigerr.New(sigerr.Data, module, "lzo: match distance exceeds output")
		}
		start := len(dst) - distance
		for i := 0; i < length; i++ {
			dst = append(dst, dst[start+i])
		}
		if len(dst) > dstCap {
			return sigerr.New(sigerr.Data, module, "lzo: decompressed payload exceeds bound")
		}
		return nil
	}

	literalRun := func(t int) (int, error) {
		if t != 0 {
			return t + 3, nil
		}
		return readExtra(15)
	}

	t, err := readByte()
	if err != nil {
		return nil, err
	}

	state := 0
	if t > 17 {
		if err := appendLiteral(t - 17); err != nil {
			return nil, err
		}
		state = 4
		if t, err = readByte(); err != nil {
			return nil, err
		}
	}

	for {
		if t < 16 {
			if state != 0 && state != 4 {
				// M1: a minimal 2-byte match, only legal right after a
				// match left 1..3 trailing literal bytes pending.
				b, err := readByte()
				if err != nil {
					return nil, err
				}
				distance := (b << 2) + ((t >> 2) & 3) + 1
				if err := appendMatch(distance, 2); err != nil {
					return nil, err
				}
				state = t & 3
				if state > 0 {
					if err := appendLiteral(state); err != nil {
						return nil, err
					}
				}
			} else {
				length, err := literalRun(t)
				if err != nil {
					return nil, err
				}
				if err := appendLiteral(length); err != nil {
					return nil, err
				}
				state = 4
			}
			if t, err = readByte(); err != nil {
				return nil, err
			}
			continue
		}

		var length, distance int
		switch {
		case t >= 64: // M4: 1LLDDDSS DDDDDDDD
			length = (t>>5)&3 + 2
			b, err := readByte()
			if err != nil {
				return nil, err
			}
			distance = (b << 3) + ((t >> 2) & 7) + 1
			state = t & 3
		case t >= 32: // M2: 01LLLLLL DDDDDDSS DDDDDDDD
			length = t & 31
			var err error
			if length == 0 {
				if length, err = readExtra(31); err != nil {
					return nil, err
				}
			} else {
				length += 2
			}
			lo, err := readByte()
			if err != nil {
				return nil, err
			}
			hi, err := readByte()
			if err != nil {
				return nil, err
			}
			distance = (hi << 6) + (lo >> 2) + 1
			state = lo & 3
		default: // M3, or the zero-distance end marker: 001LDDDSS DDDDDDDD DDDDDDDD
			length = t & 7
			var err error
			if length == 0 {
				if length, err = readExtra(7); err != nil {
					return nil, err
				}
			} else {
				length += 2
			}
			hiBit := (t & 8) << 11
			lo, err := readByte()
			if err != nil {
				return nil, err
			}
			hi, err := readByte()
			if err != nil {
				return nil, err
			}
			distance = hiBit + (hi << 6) + (lo >> 2)
			if distance == 0 {
				return dst, nil
			}
			distance += 0x4000
			state = lo & 3
		}

		if err := appendMatch(distance, length); err != nil {
			return nil, err
		}
		if state > 0 {
			if err := appendLiteral(state); err != nil {
				return nil, err
			}
		}
		if t, err = readByte(); err != nil {
			return nil, err
		}
	}
}
