// Command sigtap-capture streams fixed-width logic sample units off a
// live serial line, optionally arms a soft trigger loaded from a YAML
// spec, and replays the resulting session packets to stdout. It wires
// internal/capture (the byte source), internal/trigger (the squelch
// in front of the feed queue), internal/feed (batching), and
// internal/session (packet dispatch) the way a decoder normally wires
// them internally, but for a live device instead of a whole capture
// already resident in memory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/w1sig/sigtap/internal/capture"
	"github.com/w1sig/sigtap/internal/config"
	"github.com/w1sig/sigtap/internal/discovery"
	"github.com/w1sig/sigtap/internal/feed"
	"github.com/w1sig/sigtap/internal/logx"
	"github.com/w1sig/sigtap/internal/session"
	"github.com/w1sig/sigtap/internal/trigger"
)

func main() {
	device := pflag.StringP("device", "D", "", "Serial device path, e.g. /dev/ttyUSB0.")
	baud := pflag.IntP("baud", "b", 0, "Baud rate (0 = leave current setting alone).")
	numChannels := pflag.IntP("numchannels", "n", 8, "Number of logic channels in each sample unit.")
	triggerPath := pflag.StringP("trigger", "t", "", "YAML soft-trigger spec (omit to forward every sample unconditionally).")
	announce := pflag.Bool("announce", false, "Advertise this capture over DNS-SD while running.")
	name := pflag.StringP("name", "N", "sigtap-capture", "DNS-SD service name when --announce is set.")
	port := pflag.IntP("port", "p", 0, "DNS-SD service port when --announce is set.")
	verbose := pflag.BoolP("verbose", "v", false, "Log at debug level instead of info.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sigtap-capture -D DEVICE [-b BAUD] [-t TRIGGER.yaml]")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || *device == "" {
		pflag.Usage()
		if *help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	log := logx.New("sigtap-capture")
	if *verbose {
		log.SetLevelName("debug")
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	if *announce {
		stop, err := discovery.Announce(ctx, *name, *port)
		if err != nil {
			log.Warn("DNS-SD announce failed", "err", err)
		} else {
			defer stop()
		}
	}

	src, err := capture.OpenSerialSource(*device, *baud)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sigtap-capture:", err)
		os.Exit(1)
	}
	defer src.Close()

	if err := run(ctx, src, *numChannels, *triggerPath, log); err != nil {
		fmt.Fprintln(os.Stderr, "sigtap-capture:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, src io.Reader, numChannels int, triggerPath string, log *logx.Logger) error {
	channels := make([]*session.Channel, numChannels)
	enabled := make([]bool, numChannels)
	for i := range channels {
		channels[i] = &session.Channel{Index: i, Kind: session.Logic, Enabled: true, Name: fmt.Sprintf("ch%d", i)}
		enabled[i] = true
	}
	unitSize := session.LogicUnitSize(channels)

	var count int
	sess := session.New(func(p session.Packet) {
		count++
		fmt.Println(p.Kind.String())
	}, log)
	sess.SetChannels(channels)
	if err := sess.SendHeader(); err != nil {
		return err
	}

	logicQueue, err := feed.NewLogicQueue(unitSize, func(payload session.LogicPayload) error {
		return sess.Send(session.Packet{Kind: session.LogicData, Logic: payload})
	}, sess.SendTrigger, log)
	if err != nil {
		return err
	}

	var engine *trigger.Engine
	if triggerPath != "" {
		spec, err := config.LoadTriggerSpec(triggerPath)
		if err != nil {
			return err
		}
		engine, err = trigger.New(spec, unitSize, enabled)
		if err != nil {
			return err
		}
	}

	unit := make([]byte, unitSize)
readLoop:
	for {
		select {
		case <-ctx.Done():
			break readLoop
		default:
		}
		if _, err := io.ReadFull(src, unit); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break readLoop
			}
			return err
		}

		if engine == nil {
			if err := logicQueue.Submit(unit, 1); err != nil {
				return err
			}
			continue
		}
		for _, ev := range engine.Feed(unit) {
			switch ev.Kind {
			case trigger.EventForward:
				if err := logicQueue.Submit(ev.Unit, 1); err != nil {
					return err
				}
			case trigger.EventTrigger:
				if err := logicQueue.SendTrigger(); err != nil {
					return err
				}
			}
		}
	}

	if err := logicQueue.Flush(); err != nil {
		return err
	}
	if err := sess.SendEnd(); err != nil {
		return err
	}
	log.Info("capture finished", "packets", count)
	return nil
}
