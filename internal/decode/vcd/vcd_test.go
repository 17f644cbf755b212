package vcd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w1sig/sigtap/internal/session"
)

func decodeVCD(t *testing.T, text string) []session.Packet {
	t.Helper()
	var packets []session.Packet
	sess := session.New(func(p session.Packet) { packets = append(packets, p) }, nil)
	d := NewDecoder(sess, Options{}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	return packets
}

// bitSequence replays the LOGIC packets into a per-channel timeline of
// 0/1 values, one entry per sample unit, for channel at bit position idx.
func bitSequence(packets []session.Packet, idx int) []byte {
	var out []byte
	for _, p := range packets {
		if p.Kind != session.LogicData {
			continue
		}
		for u := 0; u < p.Logic.NumUnits(); u++ {
			b := p.Logic.Bytes[u*p.Logic.UnitSize+idx/8]
			out = append(out, (b>>uint(idx%8))&1)
		}
	}
	return out
}

// TestVCD_TwoBitTimeline decodes two single-bit wires through a
// $timescale of 10ns and checks the per-tick timeline each one holds,
// including the final-sample catch-up after the last declared
// timestamp.
func TestVCD_TwoBitTimeline(t *testing.T) {
	text := `$timescale 10 ns $end
$var wire 1 ! a $end
$var wire 1 " b $end
$enddefinitions $end
#0
0!
0"
#5
1!
#10
1"
`
	packets := decodeVCD(t, text)

	var samplerate uint64
	sawHeader, sawEnd := false, false
	for _, p := range packets {
		switch p.Kind {
		case session.Header:
			sawHeader = true
		case session.Meta:
			if p.Meta.Key == "samplerate" {
				samplerate = p.Meta.Value.(uint64)
			}
		case session.End:
			sawEnd = true
		}
	}
	assert.True(t, sawHeader)
	assert.True(t, sawEnd)
	assert.Equal(t, uint64(100_000_000), samplerate)

	a := bitSequence(packets, 0)
	b := bitSequence(packets, 1)
	require.Len(t, a, 11)
	require.Len(t, b, 11)

	wantA := []byte{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	wantB := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	assert.Equal(t, wantA, a)
	assert.Equal(t, wantB, b)
}

// TestVCD_Vector decodes a 4-bit bus whose id happens to be the "#"
// character, to confirm the decoder never confuses a vector's id
// token with a timestamp token.
func TestVCD_Vector(t *testing.T) {
	text := "$timescale 1 ns $end\n" +
		"$var wire 4 # bus [3:0] $end\n" +
		"$enddefinitions $end\n" +
		"#0 b0000 #\n" +
		"#1 b1010 #\n" +
		"#2 b1111 #\n"

	packets := decodeVCD(t, text)

	var samples [][4]byte
	for _, p := range packets {
		if p.Kind != session.LogicData {
			continue
		}
		for u := 0; u < p.Logic.NumUnits(); u++ {
			unitByte := p.Logic.Bytes[u*p.Logic.UnitSize]
			var s [4]byte
			for i := 0; i < 4; i++ {
				s[i] = (unitByte >> uint(i)) & 1
			}
			samples = append(samples, s)
		}
	}
	require.Len(t, samples, 3)
	assert.Equal(t, [4]byte{0, 0, 0, 0}, samples[0])
	assert.Equal(t, [4]byte{0, 1, 0, 1}, samples[1])
	assert.Equal(t, [4]byte{1, 1, 1, 1}, samples[2])
}

func TestVCD_SelfScopeSkippedFromDisplayName(t *testing.T) {
	text := `$scope module sigtap $end
$var wire 1 ! keep $end
$upscope $end
$enddefinitions $end
#0
0!
`
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	require.Len(t, d.Channels(), 1)
	assert.Equal(t, "keep", d.Channels()[0].Name)
}

func TestVCD_MissingEndDefinitionsErrors(t *testing.T) {
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{}, nil)
	err := d.Decode([]byte("$var wire 1 ! a $end\n"))
	assert.Error(t, err)
}

func TestVCD_BackwardsTimestampErrors(t *testing.T) {
	text := "$enddefinitions $end\n#5\n#2\n"
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{}, nil)
	assert.Error(t, d.Decode([]byte(text)))
}

func TestVCD_RejectsOverChannelCap(t *testing.T) {
	text := `$var wire 1 ! a $end
$var wire 1 " b $end
$enddefinitions $end
#0
0!
0"
`
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{NumChannels: 1}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	assert.Len(t, d.Channels(), 1)
}

func TestVCD_BOMIsStripped(t *testing.T) {
	text := "\xEF\xBB\xBF$var wire 1 ! a $end\n$enddefinitions $end\n#0\n0!\n"
	packets := decodeVCD(t, text)
	require.NotEmpty(t, packets)
	assert.Equal(t, session.Header, packets[0].Kind)
}

func TestVCD_RealChannel(t *testing.T) {
	text := "$var real 64 $ temp $end\n$enddefinitions $end\n#0 r36.6 $\n#4\n"
	var got []float32
	sess := session.New(func(p session.Packet) {
		if p.Kind == session.AnalogData {
			got = append(got, p.Analog.Values...)
		}
	}, nil)
	d := NewDecoder(sess, Options{}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	require.NotEmpty(t, got)
	for _, v := range got {
		assert.InDelta(t, 36.6, v, 0.01)
	}
}

func TestVCD_UnknownDollarSectionSkipped(t *testing.T) {
	text := "$date today $end\n$var wire 1 ! a $end\n$enddefinitions $end\n#0\n0!\n"
	packets := decodeVCD(t, text)
	require.NotEmpty(t, packets)
}

func TestVCD_ReReadPreservesChannelIdentity(t *testing.T) {
	text := "$var wire 1 ! a $end\n$enddefinitions $end\n#0\n0!\n"
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	first := d.Channels()[0]

	sess2 := session.New(func(session.Packet) {}, nil)
	d.sess = sess2
	require.NoError(t, d.Decode([]byte(text)))
	assert.Same(t, first, d.Channels()[0])
}

func TestVCD_StringValueDropped(t *testing.T) {
	text := "$var string 1 % label $end\n$enddefinitions $end\n#0 sHELLO %\n#1\n"
	packets := decodeVCD(t, text)
	for _, p := range packets {
		assert.NotEqual(t, session.AnalogData, p.Kind)
	}
}

func TestVCD_BitVectorWidthMismatch(t *testing.T) {
	text := "$var wire 2 ! bus $end\n$enddefinitions $end\n#0 b111 !\n"
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{}, nil)
	assert.Error(t, d.Decode([]byte(text)))
}

func TestVCD_TimescaleUnits(t *testing.T) {
	cases := []struct {
		line string
		want uint64
	}{
		{"$timescale 1 s $end", 1},
		{"$timescale 1 ms $end", 1_000},
		{"$timescale 100 us $end", 10_000},
		{"$timescale 1 ps $end", 1_000_000_000_000},
	}
	for _, c := range cases {
		text := c.line + "\n$var wire 1 ! a $end\n$enddefinitions $end\n#0\n0!\n"
		var rate uint64
		sess := session.New(func(p session.Packet) {
			if p.Kind == session.Meta && p.Meta.Key == "samplerate" {
				rate = p.Meta.Value.(uint64)
			}
		}, nil)
		d := NewDecoder(sess, Options{}, nil)
		require.NoError(t, d.Decode([]byte(text)))
		assert.Equal(t, c.want, rate, c.line)
	}
}

func TestVCD_DownsampleCollapsesTimestamps(t *testing.T) {
	text := "$var wire 1 ! a $end\n$enddefinitions $end\n#0\n0!\n#20\n1!\n"
	var units int
	sess := session.New(func(p session.Packet) {
		if p.Kind == session.LogicData {
			units += p.Logic.NumUnits()
		}
	}, nil)
	d := NewDecoder(sess, Options{Downsample: 10}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	assert.Equal(t, 3, units) // ticks 0,1,2 after /10 downsample
}

// TestVCD_WriteDecodeIdempotent decodes a timeline, replays the same
// per-tick samples back through WriteLogic, decodes the result, and
// checks the two timelines for each channel are identical.
func TestVCD_WriteDecodeIdempotent(t *testing.T) {
	text := `$timescale 10 ns $end
$var wire 1 ! a $end
$var wire 1 " b $end
$enddefinitions $end
#0
0!
0"
#5
1!
#10
1"
`
	var packets []session.Packet
	sess1 := session.New(func(p session.Packet) { packets = append(packets, p) }, nil)
	d1 := NewDecoder(sess1, Options{}, nil)
	require.NoError(t, d1.Decode([]byte(text)))

	channels := d1.Channels()
	unitSize := session.LogicUnitSize(channels)

	var units [][]byte
	for _, p := range packets {
		if p.Kind != session.LogicData {
			continue
		}
		for u := 0; u < p.Logic.NumUnits(); u++ {
			units = append(units, p.Logic.Bytes[u*p.Logic.UnitSize:(u+1)*p.Logic.UnitSize])
		}
	}
	require.NotEmpty(t, units)

	var buf strings.Builder
	require.NoError(t, WriteLogic(&buf, channels, unitSize, units))

	roundTripped := decodeVCD(t, buf.String())
	aBefore := bitSequence(packets, 0)
	bBefore := bitSequence(packets, 1)
	aAfter := bitSequence(roundTripped, 0)
	bAfter := bitSequence(roundTripped, 1)
	assert.Equal(t, aBefore, aAfter)
	assert.Equal(t, bBefore, bAfter)
}

func TestVCD_ScopePrefixQualifiesNames(t *testing.T) {
	text := strings.Join([]string{
		"$scope module top $end",
		"$var wire 1 ! a $end",
		"$upscope $end",
		"$enddefinitions $end",
		"#0",
		"0!",
		"",
	}, "\n")
	sess := session.New(func(session.Packet) {}, nil)
	d := NewDecoder(sess, Options{}, nil)
	require.NoError(t, d.Decode([]byte(text)))
	require.Len(t, d.Channels(), 1)
	assert.Equal(t, "top.a", d.Channels()[0].Name)
}
