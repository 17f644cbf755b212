// Package feed implements the Sample Feed Queue: the buffered,
// unit-sized packet pipeline that batches logic and
// analog samples before handing a LOGIC/ANALOG packet to the session.
//
// Submissions are order-preserving and repetition is semantically
// identical to N individual submissions; flush never drops a sample.
package feed

import (
	"github.com/w1sig/sigtap/internal/logx"
	"github.com/w1sig/sigtap/internal/session"
	"github.com/w1sig/sigtap/internal/sigerr"
	"github.com/w1sig/sigtap/internal/unit"
)

// ChunkBytes is the threshold (≈4 MiB, or CHUNK_SIZE / unit_size
// units) at which a LogicQueue auto-flushes.
const ChunkBytes = 4 * 1024 * 1024

// LogicQueue batches fixed-width Sample Units and emits LOGIC packets.
type LogicQueue struct {
	unitSize    int
	buf         []byte
	sendLogic   func(session.LogicPayload) error
	sendTrigger func() error
	log         *logx.Logger
}

// NewLogicQueue returns a queue for units of unitSize bytes. sendLogic
// is called to flush a batch; sendTrigger is called by SendTrigger
// after any pending batch has been flushed.
func NewLogicQueue(unitSize int, sendLogic func(session.LogicPayload) error, sendTrigger func() error, log *logx.Logger) (*LogicQueue, error) {
	if unitSize <= 0 {
		return nil, sigerr.New(sigerr.Arg, "feed", "logic unit size must be positive")
	}
	return &LogicQueue{unitSize: unitSize, sendLogic: sendLogic, sendTrigger: sendTrigger, log: log}, nil
}

// Submit appends repeatCount copies of value (one Sample Unit of
// unitSize bytes) to the batch, auto-flushing once the chunk threshold
// is reached.
func (q *LogicQueue) Submit(value []byte, repeatCount int) error {
	if len(value) != q.unitSize {
		return sigerr.Newf(sigerr.Arg, "feed", "sample unit is %d bytes, want %d", len(value), q.unitSize)
	}
	if repeatCount < 0 {
		return sigerr.New(sigerr.Arg, "feed", "negative repeat count")
	}
	chunkUnits := ChunkBytes / q.unitSize
	if chunkUnits < 1 {
		chunkUnits = 1
	}
	for i := 0; i < repeatCount; i++ {
		q.buf = append(q.buf, value...)
		if len(q.buf)/q.unitSize >= chunkUnits {
			if err := q.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush forces emission of whatever is buffered, if anything.
func (q *LogicQueue) Flush() error {
	if len(q.buf) == 0 {
		return nil
	}
	payload := session.LogicPayload{UnitSize: q.unitSize, Bytes: q.buf}
	q.buf = nil
	return q.sendLogic(payload)
}

// SendTrigger flushes any pending batch, then emits the TRIGGER
// packet, guaranteeing it lands strictly between two LOGIC packets.
func (q *LogicQueue) SendTrigger() error {
	if err := q.Flush(); err != nil {
		return err
	}
	return q.sendTrigger()
}

// AnalogQueue batches float32 readings for one analog channel and
// emits ANALOG packets.
type AnalogQueue struct {
	channel    int
	mq         unit.MeasuredQuantity
	u          unit.Unit
	flags      unit.Flag
	digits     int
	values     []float32
	chunkLen   int
	sendAnalog func(session.AnalogPayload) error
	sendTrigger func() error
}

// NewAnalogQueue returns a queue for a single analog channel. digits is
// the display precision hint carried alongside the reading (e.g. a VCD
// real's source precision); it has no effect on Flush batching.
func NewAnalogQueue(channel int, mq unit.MeasuredQuantity, u unit.Unit, flags unit.Flag, digits int,
	sendAnalog func(session.AnalogPayload) error, sendTrigger func() error) *AnalogQueue {
	return &AnalogQueue{
		channel: channel, mq: mq, u: u, flags: flags, digits: digits,
		chunkLen: ChunkBytes / 4,
		sendAnalog: sendAnalog, sendTrigger: sendTrigger,
	}
}

// Submit appends repeatCount copies of value, auto-flushing at the
// chunk threshold.
func (q *AnalogQueue) Submit(value float32, repeatCount int) error {
	if repeatCount < 0 {
		return sigerr.New(sigerr.Arg, "feed", "negative repeat count")
	}
	for i := 0; i < repeatCount; i++ {
		q.values = append(q.values, value)
		if len(q.values) >= q.chunkLen {
			if err := q.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush forces emission of whatever is buffered, if anything.
func (q *AnalogQueue) Flush() error {
	if len(q.values) == 0 {
		return nil
	}
	payload := session.AnalogPayload{
		Channels:   []int{q.channel},
		Values:     q.values,
		MQ:         q.mq,
		Unit:       q.u,
		Flags:      q.flags,
		NumSamples: len(q.values),
	}
	q.values = nil
	return q.sendAnalog(payload)
}

// SendTrigger flushes any pending batch, then emits the TRIGGER packet.
func (q *AnalogQueue) SendTrigger() error {
	if err := q.Flush(); err != nil {
		return err
	}
	return q.sendTrigger()
}

// Digits returns the configured display-precision hint.
func (q *AnalogQueue) Digits() int { return q.digits }
