// Package capture supplies concrete byte sources for live decoding.
// The decoding core only ever asks for an io.Reader plus timing hints
// (decoders take a byte stream, not a device handle), so this package
// is deliberately thin: one constructor wrapping a raw-mode serial
// line via github.com/pkg/term and returning an ordinary error instead
// of a bare handle and a printed message on failure.
package capture

import (
	"fmt"

	"github.com/pkg/term"

	"github.com/w1sig/sigtap/internal/sigerr"
)

const module = "capture"

// commonBauds are the only non-zero speeds OpenSerialSource accepts;
// any other baud is rejected before SetSpeed is called.
var commonBauds = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// SerialSource is a live byte source backed by a raw-mode serial line.
type SerialSource struct {
	*term.Term
}

// OpenSerialSource opens device in raw mode at the given baud rate. A
// baud of 0 leaves the line's current speed untouched, matching the
// teacher's "leave it alone" case.
func OpenSerialSource(device string, baud int) (*SerialSource, error) {
	t, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.DeviceClosed, module, "open "+device, err)
	}
	if baud != 0 {
		if !commonBauds[baud] {
			t.Close()
			return nil, sigerr.Newf(sigerr.NA, module, "unsupported baud rate %d", baud)
		}
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, sigerr.Wrap(sigerr.Arg, module, fmt.Sprintf("set speed %d on %s", baud, device), err)
		}
	}
	return &SerialSource{Term: t}, nil
}
