package dmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/w1sig/sigtap/internal/unit"
)

// fs9721Packet builds a syntactically valid, non-overlimit FS9721
// packet for the given digits/decimal-point/sign/scale-bit/mode-bit.
func fs9721Packet(digits [4]int, dp int, negative bool, scaleBit, modeBit int) []byte {
	buf := make([]byte, PacketLen)
	buf[0] = 0x80
	rev := map[int]byte{0: 0x3f, 1: 0x06, 2: 0x5b, 3: 0x4f, 4: 0x66, 5: 0x6d, 6: 0x7d, 7: 0x07, 8: 0x7f, 9: 0x6f}
	for i, d := range digits {
		buf[1+i] = rev[d]
	}
	buf[5] = byte(dp << 1)
	if negative {
		buf[5] |= 0x01
	}
	if scaleBit >= 0 {
		buf[6] = 1 << uint(scaleBit)
	}
	buf[7] = 1 << uint(modeBit)
	return buf
}

func TestFS9721_ScenarioValid(t *testing.T) {
	buf := fs9721Packet([4]int{1, 2, 3, 4}, 1, false, -1, 0)
	require.True(t, FS9721Valid(buf))
	r, err := FS9721Parse(buf)
	require.NoError(t, err)
	assert.InDelta(t, 123.4, r.Value, 1e-9)
	assert.Equal(t, "voltage", r.MQ.String())
}

func TestFS9721_OverLimitIsInf(t *testing.T) {
	buf := fs9721Packet([4]int{0, 0, 0, 0}, 0, false, -1, 0)
	buf[1], buf[2], buf[3], buf[4] = 0x00, 0x7d, 0x68, 0x00
	r, err := FS9721Parse(buf)
	require.NoError(t, err)
	assert.True(t, math.IsInf(r.Value, 1))
}

func TestFS9721_MultiScaleBitsRejected(t *testing.T) {
	buf := fs9721Packet([4]int{1, 2, 3, 4}, 0, false, -1, 0)
	buf[6] = 0x03 // nano + micro both set
	assert.False(t, FS9721Valid(buf))
}

func TestFS9721_ContinuityFromNegative(t *testing.T) {
	buf := fs9721Packet([4]int{0, 0, 0, 1}, 0, true, -1, 6) // continuity mode, negative value
	r, err := FS9721Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Value)
}

func fs9922Packet(digits [4]int, dp int, negative bool, modeBit int) []byte {
	buf := make([]byte, PacketLen)
	if negative {
		buf[0] = '-'
	} else {
		buf[0] = '+'
	}
	for i, d := range digits {
		buf[1+i] = byte('0' + d)
	}
	buf[5] = byte(dp)
	buf[7] = 1 << uint(modeBit)
	buf[12], buf[13] = '\r', '\n'
	return buf
}

func TestFS9922_ScenarioValid(t *testing.T) {
	buf := fs9922Packet([4]int{5, 6, 7, 8}, 2, false, 0)
	require.True(t, FS9922Valid(buf))
	r, err := FS9922Parse(buf)
	require.NoError(t, err)
	assert.InDelta(t, 56.78, r.Value, 1e-9)
}

func TestFS9922_ContinuityFromInf(t *testing.T) {
	buf := fs9922Packet([4]int{0, 0, 0, 0}, 0, false, 6)
	buf[1], buf[2], buf[3], buf[4] = fs9922OverLimit[0], fs9922OverLimit[1], fs9922OverLimit[2], fs9922OverLimit[3]
	r, err := FS9922Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Value, "FS9922 continuity derives from +Inf, not sign")
}

func TestFS9922_RequiresCRLF(t *testing.T) {
	buf := fs9922Packet([4]int{1, 2, 3, 4}, 0, false, 0)
	buf[13] = 0x00
	assert.False(t, FS9922Valid(buf))
}

func metex14Packet(digits [5]int, dp int, negative bool, modeBit int) []byte {
	buf := make([]byte, PacketLen)
	if negative {
		buf[0] = '-'
	} else {
		buf[0] = '+'
	}
	for i, d := range digits {
		buf[1+i] = byte('0' + d)
	}
	buf[6] = byte(dp)
	buf[8] = 1 << uint(modeBit)
	buf[12] = '\r'
	return buf
}

func TestMetex14_ScenarioValid(t *testing.T) {
	buf := metex14Packet([5]int{1, 2, 3, 4, 5}, 3, false, 0)
	require.True(t, Metex14Valid(buf))
	r, err := Metex14Parse(buf)
	require.NoError(t, err)
	assert.InDelta(t, 12.345, r.Value, 1e-9)
}

func TestMetex14_OverLimitTextSentinel(t *testing.T) {
	buf := metex14Packet([5]int{0, 0, 0, 0, 0}, 0, false, 0)
	copy(buf[1:6], "OL   ")
	r, err := Metex14Parse(buf)
	require.NoError(t, err)
	assert.True(t, math.IsInf(r.Value, 1))

	buf2 := metex14Packet([5]int{0, 0, 0, 0, 0}, 0, false, 0)
	copy(buf2[1:6], "O.L  ")
	r2, err := Metex14Parse(buf2)
	require.NoError(t, err)
	assert.True(t, math.IsInf(r2.Value, 1))
}

func es51922Packet(digits [5]int, negative bool, mode, rng int, flagByte byte) []byte {
	buf := make([]byte, PacketLen)
	if negative {
		buf[0] = '-'
	} else {
		buf[0] = '+'
	}
	for i, d := range digits {
		buf[1+i] = byte('0' + d)
	}
	buf[6] = byte(mode)
	buf[7] = byte(rng)
	buf[8] = flagByte
	buf[12], buf[13] = '\r', '\n'
	return buf
}

func TestES51922_ScenarioValid(t *testing.T) {
	buf := es51922Packet([5]int{0, 1, 2, 3, 4}, false, 0, 3, 0)
	require.True(t, ES51922Valid(buf))
	r, err := ES51922Parse(buf)
	require.NoError(t, err)
	assert.InDelta(t, 1234.0, r.Value, 1e-9)
}

func TestES51922_OverLimitSentinel(t *testing.T) {
	buf := es51922Packet([5]int{2, 2, 5, 8, 0}, false, 0, 0, 0)
	r, err := ES51922Parse(buf)
	require.NoError(t, err)
	assert.True(t, math.IsInf(r.Value, 1))
}

func TestES51922_ACAndDCBothSetIsPreserved(t *testing.T) {
	buf := es51922Packet([5]int{0, 0, 1, 0, 0}, false, 0, 3, 0x03)
	r, err := ES51922Parse(buf)
	require.NoError(t, err)
	assert.True(t, r.Flags.Has(unit.FlagAC) && r.Flags.Has(unit.FlagDC))
}

// Property: an FS9721 packet accepted by Valid must parse to a finite
// value or +Inf, never NaN or an error.
func TestDMM_ValidPacketsAlwaysParse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		digits := [4]int{
			rapid.IntRange(0, 9).Draw(rt, "d0"),
			rapid.IntRange(0, 9).Draw(rt, "d1"),
			rapid.IntRange(0, 9).Draw(rt, "d2"),
			rapid.IntRange(0, 9).Draw(rt, "d3"),
		}
		dp := rapid.IntRange(0, 3).Draw(rt, "dp")
		neg := rapid.Bool().Draw(rt, "neg")
		mode := rapid.IntRange(0, 5).Draw(rt, "mode") // exclude continuity/diode corners here
		buf := fs9721Packet(digits, dp, neg, -1, mode)
		require.True(rt, FS9721Valid(buf))
		r, err := FS9721Parse(buf)
		require.NoError(rt, err)
		assert.False(rt, math.IsNaN(r.Value))
	})
}

// Property: any scale byte with more than one bit set is rejected by
// scaleFactorFromMap, the check FS9721, FS9922 and Metex-14 run in
// Valid on their shared scaleBits layout.
func TestDMM_MultiSetScaleAlwaysRejected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := byte(rapid.IntRange(0, 31).Draw(rt, "scale"))
		n := popcount(b)
		_, err := scaleFactorFromMap(scaleBits(b))
		if n > 1 {
			assert.Error(rt, err)
		} else {
			assert.NoError(rt, err)
		}
	})
}
