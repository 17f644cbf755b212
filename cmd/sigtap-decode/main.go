// Command sigtap-decode replays a capture file through the matching
// format decoder and prints the resulting packet trace, one line per
// packet, to stdout. Flags use long pflag names, Parse() is called
// once in main, and pflag.Usage is overridden for a one-line banner.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/w1sig/sigtap/internal/config"
	"github.com/w1sig/sigtap/internal/decode/dmm"
	"github.com/w1sig/sigtap/internal/decode/la8"
	"github.com/w1sig/sigtap/internal/decode/stf"
	"github.com/w1sig/sigtap/internal/decode/vcd"
	"github.com/w1sig/sigtap/internal/logx"
	"github.com/w1sig/sigtap/internal/session"
)

func main() {
	format := pflag.StringP("format", "f", "", "Input format: vcd, stf, la8, or dmm.")
	downsample := pflag.Uint64P("downsample", "d", 0, "VCD: divide the timestamp base by this factor (0 = 1).")
	skip := pflag.Int64P("skip", "s", 0, "VCD: discard timestamps below this value before emitting samples.")
	compress := pflag.Uint64P("compress", "c", 0, "VCD: cap how many repeated samples a single gap emits (0 = unbounded).")
	numChannels := pflag.IntP("numchannels", "n", 0, "VCD: reject wire/reg/real/integer vars past this many channels (0 = unlimited).")
	familyTable := pflag.StringP("families", "F", "", "DMM: YAML family-selector table (default: built-in fs9721/fs9922/metex14/es51922 order).")
	verbose := pflag.BoolP("verbose", "v", false, "Log at debug level instead of info.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sigtap-decode -f FORMAT FILE")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || pflag.NArg() != 1 || *format == "" {
		pflag.Usage()
		if *help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	log := logx.New("sigtap-decode")
	if *verbose {
		log.SetLevelName("debug")
	}

	data, err := os.ReadFile(pflag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "sigtap-decode:", err)
		os.Exit(1)
	}

	var count int
	sess := session.New(func(p session.Packet) {
		count++
		fmt.Println(describe(p))
	}, log)

	switch *format {
	case "vcd":
		opts := vcd.Options{
			Downsample:  *downsample,
			Skip:        *skip,
			Compress:    *compress,
			NumChannels: *numChannels,
		}
		err = vcd.NewDecoder(sess, opts, log).Decode(data)
	case "stf":
		err = stf.Decode(sess, data)
	case "la8":
		err = la8.Decode(sess, data)
	case "dmm":
		err = decodeDMM(sess, data, *familyTable, log)
	default:
		fmt.Fprintf(os.Stderr, "sigtap-decode: unknown format %q\n", *format)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sigtap-decode:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "sigtap-decode: %d packets\n", count)
}

// decodeDMM has no session-aware entry point of its own (the dmm
// package only parses one fixed-length packet at a time), so this
// wires a single-channel session around it: one Analog channel, a
// single HEADER, an ANALOG packet per 14-byte frame, END at EOF.
func decodeDMM(sess *session.Coordinator, data []byte, familyTablePath string, log *logx.Logger) error {
	families := config.DefaultFamilyTable()
	if familyTablePath != "" {
		loaded, err := config.LoadFamilyTable(familyTablePath)
		if err != nil {
			return err
		}
		families = loaded
	}

	sess.SetChannels([]*session.Channel{{Index: 0, Kind: session.Analog, Enabled: true, Name: "dmm0"}})
	if err := sess.SendHeader(); err != nil {
		return err
	}

	for off := 0; off+dmm.PacketLen <= len(data); off += dmm.PacketLen {
		frame := data[off : off+dmm.PacketLen]
		reading, family, err := config.SelectFamily(frame, families)
		if err != nil {
			log.Warn("skipping unrecognized DMM packet", "offset", off, "err", err)
			continue
		}
		payload := session.AnalogPayload{
			Channels:   []int{0},
			Values:     []float32{float32(reading.Value)},
			MQ:         reading.MQ,
			Unit:       reading.Unit,
			Flags:      reading.Flags,
			NumSamples: 1,
		}
		log.Debug("decoded DMM packet", "family", family, "value", reading.Value)
		if err := sess.Send(session.Packet{Kind: session.AnalogData, Analog: payload}); err != nil {
			return err
		}
	}
	return sess.SendEnd()
}

func describe(p session.Packet) string {
	switch p.Kind {
	case session.Header:
		return "HEADER"
	case session.Meta:
		return fmt.Sprintf("META %s=%v", p.Meta.Key, p.Meta.Value)
	case session.LogicData:
		return fmt.Sprintf("LOGIC units=%d unit_size=%d", p.Logic.NumUnits(), p.Logic.UnitSize)
	case session.AnalogData:
		return fmt.Sprintf("ANALOG channels=%v mq=%v unit=%v n=%d", p.Analog.Channels, p.Analog.MQ, p.Analog.Unit, p.Analog.NumSamples)
	case session.Trigger:
		return "TRIGGER"
	case session.FrameBegin:
		return "FRAME_BEGIN"
	case session.FrameEnd:
		return "FRAME_END"
	case session.End:
		return "END"
	default:
		return p.Kind.String()
	}
}
