// Package la8 implements the Raw-Logic Decoder: a fixed-size ChronoVu
// LA8 capture blob, mapped to logic frames with a
// computed sample rate. It is the simplest of the four decoders and,
// like stf and vcd, takes the whole capture in memory.
package la8

import (
	"encoding/binary"

	"github.com/w1sig/sigtap/internal/session"
	"github.com/w1sig/sigtap/internal/sigerr"
)

// BodyBytes is the fixed logic-sample body size: 8 MiB, one byte per
// sample across all 8 channels.
const BodyBytes = 8 * 1024 * 1024

// TrailerBytes is the fixed trailer size: one divcount byte plus a
// little-endian uint32 trigger-sample index.
const TrailerBytes = 5

// InputBytes is the total fixed input size.
const InputBytes = BodyBytes + TrailerBytes

// NoSampleRate is the divcount sentinel meaning the rate is absent or
// unknown; no SAMPLERATE meta is emitted in that case.
const NoSampleRate = 0xff

// chunkBytes bounds each emitted LOGIC packet at up to 4 KiB for this
// decoder specifically (smaller than the general feed queue's
// auto-flush threshold, since the whole capture is already resident
// and there is no reason to batch it any coarser).
const chunkBytes = 4 * 1024

const module = "la8"

// SampleRate returns the sample rate in Hz for a given divcount, and
// ok=false when divcount is the NoSampleRate sentinel.
func SampleRate(divcount byte) (rate uint64, ok bool) {
	if divcount == NoSampleRate {
		return 0, false
	}
	return 100_000_000 / (uint64(divcount) + 1), true
}

// Decode validates and replays one LA8 capture through sess, emitting
// HEADER, an optional META{samplerate}, LOGIC packets of unit-size 1
// in chunks of up to chunkBytes, a TRIGGER at the recorded sample
// index, and END.
func Decode(sess *session.Coordinator, buf []byte) error {
	if len(buf) != InputBytes {
		return sigerr.Newf(sigerr.Data, module, "want %d bytes, got %d", InputBytes, len(buf))
	}
	body := buf[:BodyBytes]
	divcount := buf[BodyBytes]
	triggerIndex := binary.LittleEndian.Uint32(buf[BodyBytes+1:])
	if uint64(triggerIndex) > uint64(len(body)) {
		return sigerr.Newf(sigerr.Data, module, "trigger index %d beyond body length %d", triggerIndex, len(body))
	}

	sess.SetChannels(logicChannels())
	if err := sess.SendHeader(); err != nil {
		return err
	}
	if rate, ok := SampleRate(divcount); ok {
		if err := sess.SendMeta("samplerate", rate); err != nil {
			return err
		}
	}

	triggerSent := triggerIndex == 0
	if triggerSent {
		if err := sess.SendTrigger(); err != nil {
			return err
		}
	}

	for offset := 0; offset < len(body); offset += chunkBytes {
		end := offset + chunkBytes
		if end > len(body) {
			end = len(body)
		}
		chunkEnd := end
		if !triggerSent && int(triggerIndex) < chunkEnd {
			chunkEnd = int(triggerIndex)
		}
		if chunkEnd > offset {
			if err := sendLogic(sess, body[offset:chunkEnd]); err != nil {
				return err
			}
		}
		if !triggerSent && chunkEnd == int(triggerIndex) {
			if err := sess.SendTrigger(); err != nil {
				return err
			}
			triggerSent = true
			if chunkEnd < end {
				if err := sendLogic(sess, body[chunkEnd:end]); err != nil {
					return err
				}
			}
		}
	}

	return sess.SendEnd()
}

func sendLogic(sess *session.Coordinator, bytes []byte) error {
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	return sess.Send(session.Packet{Kind: session.LogicData, Logic: session.LogicPayload{UnitSize: 1, Bytes: cp}})
}

func logicChannels() []*session.Channel {
	channels := make([]*session.Channel, 8)
	for i := range channels {
		channels[i] = &session.Channel{Index: i, Kind: session.Logic, Enabled: true}
	}
	return channels
}
