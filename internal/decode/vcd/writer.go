package vcd

import (
	"bufio"
	"fmt"
	"io"

	"github.com/w1sig/sigtap/internal/session"
	"github.com/w1sig/sigtap/internal/sigerr"
)

// idAlphabet is the set of single printable ASCII identifier
// characters this writer assigns, one per channel, in Index order.
// '#' is deliberately excluded even though the decoder handles it
// correctly (see vcd_test.go's TestVCD_Vector) so a human skimming
// writer output is never tempted to mistake an id for a timestamp
// marker.
const idAlphabet = "!\"$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// WriteLogic emits a minimal VCD document for a set of enabled logic
// channels (ordered by Index) and a sequence of fixed-width Sample
// Units, one per tick starting at #0. It writes only wire/reg
// declarations and bit value changes: no scopes, no real/string vars,
// no $timescale beyond a fixed 1ns placeholder, since its purpose is
// to let a logic-sample sequence round-trip back through Decode for
// an idempotence check, not to reproduce a source document exactly.
func WriteLogic(w io.Writer, channels []*session.Channel, unitSize int, units [][]byte) error {
	if len(channels) > len(idAlphabet) {
		return sigerr.Newf(sigerr.Arg, module, "writer supports at most %d channels, got %d", len(idAlphabet), len(channels))
	}
	bw := bufio.NewWriter(w)

	ids := make([]byte, len(channels))
	for i := range channels {
		ids[i] = idAlphabet[i]
	}

	fmt.Fprintln(bw, "$timescale 1 ns $end")
	for i, ch := range channels {
		fmt.Fprintf(bw, "$var wire 1 %c %s $end\n", ids[i], ch.Name)
	}
	fmt.Fprintln(bw, "$enddefinitions $end")

	prev := make([]byte, len(channels)) // all-zero "previous" image for tick 0's forced dump
	for t, unit := range units {
		cur := make([]byte, len(channels))
		for i, ch := range channels {
			byteIdx := ch.Index / 8
			if byteIdx < len(unit) {
				cur[i] = (unit[byteIdx] >> uint(ch.Index%8)) & 1
			}
		}

		var changed []int
		for i := range channels {
			if t == 0 || cur[i] != prev[i] {
				changed = append(changed, i)
			}
		}
		if len(changed) > 0 {
			fmt.Fprintf(bw, "#%d\n", t)
			for _, i := range changed {
				fmt.Fprintf(bw, "%d%c\n", cur[i], ids[i])
			}
		}
		prev = cur
	}

	return bw.Flush()
}
