package stf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLZO1xDecompress_LiteralAndMatch decodes a hand-built stream: a
// 3-byte literal prefix "ABC", a 2M back-reference (distance 3,
// length 3) reproducing it, and the zero-distance end marker -
// expected output "ABCABC".
func TestLZO1xDecompress_LiteralAndMatch(t *testing.T) {
	stream := []byte{
		20, 'A', 'B', 'C', // prefix literal run of 3 bytes (t-17)
		0x21, 0x08, 0x00, // 2M: length=1+2=3, distance=(0<<6)+(8>>2)+1=3
		0x11, 0x00, 0x00, // end-of-stream marker (distance 0)
	}
	out, err := lzo1xDecompress(stream, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCABC"), out)
}

func TestLZO1xDecompress_RejectsOversizeOutput(t *testing.T) {
	stream := []byte{
		20, 'A', 'B', 'C',
		0x21, 0x08, 0x00,
		0x11, 0x00, 0x00,
	}
	_, err := lzo1xDecompress(stream, 4) // cap smaller than the 6-byte output
	assert.Error(t, err)
}

func TestLZO1xDecompress_TruncatedStreamErrors(t *testing.T) {
	_, err := lzo1xDecompress([]byte{20, 'A'}, 64) // claims 3 literal bytes, has 1
	assert.Error(t, err)
}
