package session

/*------------------------------------------------------------------
 *
 * Purpose:	Dispatch session packets to the one consumer callback
 *		registered for this capture. The Coordinator holds no
 *		Feed Queue; each decoder owns and flushes its own.
 *
 * Description:	A decoder (or the trigger engine standing in front of
 *		one) calls Send*/SendHeader/SendMeta/SendEnd; the
 *		Coordinator enforces the session-level invariants
 *		(exactly one HEADER before anything else, at most one
 *		END, and that END follows everything) and forwards
 *		synchronously to Consumer.
 *
 *------------------------------------------------------------------*/

import (
	"time"

	"github.com/w1sig/sigtap/internal/logx"
	"github.com/w1sig/sigtap/internal/sigerr"
)

// Consumer receives session packets synchronously. It must not retain
// references into Packet.Logic.Bytes past return, and must not
// re-enter the Coordinator for the same session.
type Consumer func(Packet)

// Coordinator is the single owner of a capture session's packet
// stream and its channel list.
type Coordinator struct {
	consumer   Consumer
	log        *logx.Logger
	channels   []*Channel
	headerSent bool
	endSent    bool
	triggerSent bool
}

// New returns a Coordinator that will forward every packet to consumer.
func New(consumer Consumer, log *logx.Logger) *Coordinator {
	return &Coordinator{consumer: consumer, log: log}
}

// SetChannels installs the session's channel list. It must be called
// before SendHeader.
func (c *Coordinator) SetChannels(channels []*Channel) {
	c.channels = channels
}

// Channels returns the session's channel list.
func (c *Coordinator) Channels() []*Channel { return c.channels }

// SendHeader emits the one HEADER packet for this session. Calling it
// twice is a caller error.
func (c *Coordinator) SendHeader() error {
	if c.headerSent {
		return sigerr.New(sigerr.DeviceClosed, "session", "HEADER already sent")
	}
	c.headerSent = true
	c.dispatch(Packet{Kind: Header, Header: HeaderPayload{FeedVersion: 1, WallClockStart: time.Now()}})
	if c.log != nil {
		c.log.Debug("session started")
	}
	return nil
}

// SendMeta emits a META packet. It is only valid between SendHeader and
// SendEnd.
func (c *Coordinator) SendMeta(key string, value any) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	c.dispatch(Packet{Kind: Meta, Meta: MetaPayload{Key: key, Value: value}})
	return nil
}

// Send forwards an already-built data packet (LOGIC, ANALOG,
// FRAME_BEGIN, FRAME_END). TRIGGER must go through SendTrigger so the
// at-most-once invariant is enforced in one place.
func (c *Coordinator) Send(p Packet) error {
	if p.Kind == Trigger {
		return sigerr.New(sigerr.Arg, "session", "use SendTrigger for TRIGGER packets")
	}
	if err := c.requireActive(); err != nil {
		return err
	}
	c.dispatch(p)
	return nil
}

// SendTrigger emits the single TRIGGER packet allowed per session.
// A second call is a caller error.
func (c *Coordinator) SendTrigger() error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if c.triggerSent {
		return sigerr.New(sigerr.DeviceClosed, "session", "TRIGGER already sent")
	}
	c.triggerSent = true
	c.dispatch(Packet{Kind: Trigger})
	return nil
}

// SendEnd emits the one END packet and closes the session to further
// sends.
func (c *Coordinator) SendEnd() error {
	if err := c.requireActive(); err != nil {
		return err
	}
	c.endSent = true
	c.dispatch(Packet{Kind: End})
	if c.log != nil {
		c.log.Debug("session ended")
	}
	return nil
}

// Cancel flushes nothing itself (the caller's Feed Queue must be
// flushed first) but guarantees END is emitted and the session marked
// closed, discarding any partial decoder state the caller still holds.
func (c *Coordinator) Cancel() error {
	if c.endSent {
		return nil
	}
	if !c.headerSent {
		// Nothing was ever sent; closing silently is correct, there is
		// no HEADER to balance with an END.
		c.endSent = true
		return nil
	}
	return c.SendEnd()
}

func (c *Coordinator) requireActive() error {
	if !c.headerSent {
		return sigerr.New(sigerr.DeviceClosed, "session", "HEADER not yet sent")
	}
	if c.endSent {
		return sigerr.New(sigerr.DeviceClosed, "session", "session already ended")
	}
	return nil
}

func (c *Coordinator) dispatch(p Packet) {
	if c.consumer != nil {
		c.consumer(p)
	}
}
