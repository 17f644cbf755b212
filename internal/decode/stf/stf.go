// Package stf implements the STF Decoder: a compressed, chunked Asix
// Sigma capture format. The stage machine (Magic -> Header -> Data ->
// Done) mirrors the format's own record layout; CRC-32 uses the
// standard library, an ordinary checksum unlike the hand-rolled
// LZO1X1 codec this package also carries (see lzo.go).
package stf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/w1sig/sigtap/internal/session"
	"github.com/w1sig/sigtap/internal/sigerr"
)

const module = "stf"

// Magic is the 16-byte marker identifying a supported Sigma capture.
var Magic = []byte("Sigma Test File\x00")

// omegaMagic is a recognized-but-unsupported sibling format: named by
// the header grammar but never given a record layout anywhere.
var omegaMagic = []byte("Omega Test File\x00")

const (
	maxRecordLen    = 1 << 20 // 1 MiB
	chunkBytes      = 1440
	chunkInfoBytes  = 32
	clustersPerChunk = 64
	wordsPerCluster = 7
)

// Header carries the parsed key=value section.
type Header struct {
	FirstTS    int64
	LengthTS   int64
	TriggerTS  int64
	ClockScheme int
	Period     int64
	Inputs     []string
	Traces     []Trace
}

// Trace is one parsed Traces.Traces record.
type Trace struct {
	Input   int
	Caption string
	IsBus   bool
}

// clockInfo resolves a clock scheme to a base rate and samples/word.
type clockInfo struct {
	rateHz        uint64
	samplesPerWord int
	periodNs      float64
}

func resolveClockScheme(scheme int, divider int64) (clockInfo, error) {
	switch scheme {
	case 0:
		return clockInfo{rateHz: 50_000_000, samplesPerWord: 1, periodNs: 20 * float64(divider)}, nil
	case 1:
		return clockInfo{rateHz: 100_000_000, samplesPerWord: 2, periodNs: 10}, nil
	case 2:
		return clockInfo{rateHz: 200_000_000, samplesPerWord: 4, periodNs: 5}, nil
	default:
		return clockInfo{}, sigerr.Newf(sigerr.NA, module, "unsupported clock scheme %d", scheme)
	}
}

// parseHeader reads CR/LF-terminated key=value lines up to the
// section's single NUL terminator byte. It checks for that byte
// before each ReadString('\n') call rather than scanning for it
// inline, since the bytes immediately following the header are
// arbitrary binary record data that may happen to contain 0x0A.
func parseHeader(r *bufio.Reader) (Header, error) {
	var h Header
	h.ClockScheme = -1
	for {
		b, err := r.Peek(1)
		if err != nil {
			return h, sigerr.New(sigerr.Data, module, "header section never NUL-terminated")
		}
		if b[0] == 0x00 {
			r.Discard(1)
			break
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return h, sigerr.New(sigerr.Data, module, "header section never NUL-terminated")
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			if err := applyHeaderLine(&h, trimmed); err != nil {
				return h, err
			}
		}
	}
	if h.ClockScheme < 0 {
		return h, sigerr.New(sigerr.Data, module, "missing Sigma.ClockSource")
	}
	return h, nil
}

func applyHeaderLine(h *Header, line string) error {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return nil
	}
	switch key {
	case "TestFirstTS":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return sigerr.Wrap(sigerr.Data, module, "bad TestFirstTS", err)
		}
		h.FirstTS = v
	case "TestLengthTS":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return sigerr.Wrap(sigerr.Data, module, "bad TestLengthTS", err)
		}
		h.LengthTS = v
	case "TestTriggerTS":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return sigerr.Wrap(sigerr.Data, module, "bad TestTriggerTS", err)
		}
		h.TriggerTS = v
	case "Sigma.ClockSource":
		for _, field := range strings.Split(value, ";") {
			k, v, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			switch k {
			case "ClockScheme":
				scheme, err := strconv.Atoi(v)
				if err != nil {
					return sigerr.Wrap(sigerr.Data, module, "bad ClockScheme", err)
				}
				h.ClockScheme = scheme
			case "Period":
				period, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return sigerr.Wrap(sigerr.Data, module, "bad Period", err)
				}
				h.Period = period
			}
		}
	case "Sigma.SigmaInputs":
		h.Inputs = strings.Split(value, ";")
	case "Traces.Traces":
		for _, rec := range strings.Split(value, ";") {
			if rec == "" {
				continue
			}
			h.Traces = append(h.Traces, parseTrace(rec))
		}
	}
	return nil
}

func parseTrace(rec string) Trace {
	var t Trace
	for _, field := range strings.Split(rec, ":") {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "Type":
			t.IsBus = v == "Bus"
		case "Input0":
			n, err := strconv.Atoi(v)
			if err == nil {
				t.Input = n
			}
		case "Caption":
			t.Caption = unescapeCaption(v)
		}
	}
	return t
}

// unescapeCaption decodes %XX escape sequences.
func unescapeCaption(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// readRecords reads and decompresses every record up to the
// sentinel, returning their concatenated chunk bytes.
func readRecords(r *bufio.Reader) ([]byte, error) {
	var out []byte
	for {
		var lenBuf, crcBuf [4]byte
		if _, err := readFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		recLen := binary.LittleEndian.Uint32(lenBuf[:])
		if _, err := readFull(r, crcBuf[:]); err != nil {
			return nil, err
		}
		recCRC := binary.LittleEndian.Uint32(crcBuf[:])
		if recLen == 0xFFFFFFFF && recCRC == 0 {
			return out, nil
		}
		if recLen > maxRecordLen {
			return nil, sigerr.Newf(sigerr.Data, module, "record length %d exceeds %d", recLen, maxRecordLen)
		}
		payload := make([]byte, recLen)
		if _, err := readFull(r, payload); err != nil {
			return nil, err
		}
		if crc32.ChecksumIEEE(payload) != recCRC {
			return nil, sigerr.New(sigerr.Data, module, "record CRC mismatch")
		}
		decompressed, err := lzo1xDecompress(payload, maxRecordLen)
		if err != nil {
			return nil, err
		}
		if len(decompressed)%chunkBytes != 0 {
			return nil, sigerr.Newf(sigerr.Data, module, "decompressed record %d bytes not a multiple of chunk size %d", len(decompressed), chunkBytes)
		}
		out = append(out, decompressed...)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, sigerr.Wrap(sigerr.Data, module, "truncated record stream", err)
		}
	}
	return n, nil
}

// demux extracts sample idx (0-based) from a 16-bit source word under
// an N-way bit interleave: destination bit b of sample idx comes from
// source bit idx + b*n.
func demux(word uint16, idx, n int) uint16 {
	var out uint16
	bits := 16 / n
	for b := 0; b < bits; b++ {
		srcBit := idx + b*n
		if word&(1<<uint(srcBit)) != 0 {
			out |= 1 << uint(b)
		}
	}
	return out
}

// Decode parses one complete STF byte stream and replays it through
// sess as HEADER, META{samplerate}, LOGIC and (if in range) TRIGGER,
// then END.
func Decode(sess *session.Coordinator, data []byte) error {
	r := bufio.NewReader(bytes.NewReader(data))

	magic := make([]byte, 16)
	if _, err := readFull(r, magic); err != nil {
		return err
	}
	if bytes.Equal(magic, omegaMagic) {
		return sigerr.New(sigerr.NA, module, "Omega Test File is unsupported")
	}
	if !bytes.Equal(magic, Magic) {
		return sigerr.New(sigerr.Data, module, "bad magic")
	}

	header, err := parseHeader(r)
	if err != nil {
		return err
	}
	clock, err := resolveClockScheme(header.ClockScheme, header.Period)
	if err != nil {
		return err
	}

	chunks, err := readRecords(r)
	if err != nil {
		return err
	}

	channels := make([]*session.Channel, 0, len(header.Traces))
	pins := make([]int, 0, len(header.Traces))
	for _, tr := range header.Traces {
		if tr.IsBus {
			continue
		}
		channels = append(channels, &session.Channel{Index: len(channels), Kind: session.Logic, Enabled: true, Name: tr.Caption})
		pins = append(pins, tr.Input)
	}
	if len(channels) == 0 {
		channels = []*session.Channel{{Index: 0, Kind: session.Logic, Enabled: true}}
		pins = []int{0}
	}
	sess.SetChannels(channels)

	if err := sess.SendHeader(); err != nil {
		return err
	}
	if err := sess.SendMeta("samplerate", clock.rateHz); err != nil {
		return err
	}

	unitSize := session.LogicUnitSize(channels)
	// Each cluster tick carries wordsPerCluster 16-bit sample words, and
	// each word demuxes into clock.samplesPerWord samples, so one tick
	// is wordsPerCluster*samplesPerWord units.
	unitsPerTick := int64(wordsPerCluster) * int64(clock.samplesPerWord)
	triggerOffset := (header.TriggerTS - header.FirstTS) * unitsPerTick
	maxUnitsForTrigger := header.LengthTS * unitsPerTick
	triggerSent := triggerOffset < 0 || (maxUnitsForTrigger > 0 && triggerOffset >= maxUnitsForTrigger)
	if !triggerSent && triggerOffset == 0 {
		if err := sess.SendTrigger(); err != nil {
			return err
		}
		triggerSent = true
	}

	// packSample demuxes channel bits out of one 16-bit sample word
	// (already narrowed by demux when samplesPerWord > 1) using each
	// channel's parsed pin (Traces.Traces Input0), not its position in
	// the trace list.
	packSample := func(v uint16) []byte {
		buf := make([]byte, unitSize)
		for i, ch := range channels {
			if v&(1<<uint(pins[i])) != 0 {
				buf[ch.Index/8] |= 1 << uint(ch.Index%8)
			}
		}
		return buf
	}

	var lastWords [wordsPerCluster]uint16
	var lastTS int64 = -1
	unitIndex := int64(0)
	maxUnits := header.LengthTS * unitsPerTick

	emit := func(v uint16) error {
		if maxUnits > 0 && unitIndex >= maxUnits {
			return nil
		}
		if err := sess.Send(session.Packet{Kind: session.LogicData, Logic: session.LogicPayload{UnitSize: unitSize, Bytes: packSample(v)}}); err != nil {
			return err
		}
		unitIndex++
		if !triggerSent && unitIndex >= triggerOffset {
			triggerSent = true
			return sess.SendTrigger()
		}
		return nil
	}

	for off := 0; off+chunkBytes <= len(chunks); off += chunkBytes {
		chunk := chunks[off : off+chunkBytes]
		tsSection := chunk[chunkInfoBytes : chunkInfoBytes+clustersPerChunk*8]
		sampleSection := chunk[chunkInfoBytes+clustersPerChunk*8:]

		for c := 0; c < clustersPerChunk; c++ {
			ts := int64(binary.LittleEndian.Uint64(tsSection[c*8:]))
			if lastTS >= 0 && ts < lastTS {
				return sigerr.New(sigerr.Data, module, "backwards cluster timestamp")
			}

			var words [wordsPerCluster]uint16
			base := sampleSection[c*14 : c*14+14]
			for w := 0; w < wordsPerCluster; w++ {
				words[w] = binary.LittleEndian.Uint16(base[w*2:])
			}

			gap := int64(1)
			if lastTS >= 0 {
				gap = ts - lastTS
			}
			for rep := int64(0); rep < gap; rep++ {
				// Each tick replays the last known sample words until
				// the final repetition, which uses this cluster's own.
				src := lastWords
				if rep == gap-1 {
					src = words
				}
				for w := 0; w < wordsPerCluster; w++ {
					for sampleIdx := 0; sampleIdx < clock.samplesPerWord; sampleIdx++ {
						v := src[w]
						if clock.samplesPerWord > 1 {
							v = demux(v, sampleIdx, clock.samplesPerWord)
						}
						if err := emit(v); err != nil {
							return err
						}
					}
				}
			}
			lastWords = words
			lastTS = ts
		}
	}

	return sess.SendEnd()
}
