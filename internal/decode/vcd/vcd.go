// Package vcd implements the VCD Decoder, the most intricate decoder
// in the core: a line-oriented text format with scope-qualified
// signals, timestamp scaling, multi-bit vectors, and analog
// reals/integers, parsed incrementally over a whitespace token stream.
package vcd

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/w1sig/sigtap/internal/feed"
	"github.com/w1sig/sigtap/internal/logx"
	"github.com/w1sig/sigtap/internal/session"
	"github.com/w1sig/sigtap/internal/sigerr"
	"github.com/w1sig/sigtap/internal/unit"
)

const module = "vcd"

// SelfScopeName is this library's own VCD-writer scope identifier; a
// $scope block with this name is silently skipped so re-imported
// writer output doesn't double-nest the display hierarchy.
const SelfScopeName = "sigtap"

// Options are the VCD input-module knobs.
type Options struct {
	NumChannels int    // 0 = unlimited
	Downsample  uint64 // >= 1
	Skip        int64  // <0 auto, 0 from zero, >0 start-ts
	Compress    uint64 // 0 off, else max idle ticks
}

func (o Options) normalized() Options {
	if o.Downsample == 0 {
		o.Downsample = 1
	}
	return o
}

type varKind int

const (
	varLogic varKind = iota
	varReal
	varInteger
	varString
)

// signal is the decoder's record of one declared $var.
type signal struct {
	kind     varKind
	channels []*session.Channel // one per bit for logic; len 1 for real/integer; nil for string
	width    int
}

// Decoder holds the full parse state for one VCD input.
type Decoder struct {
	opts Options
	log  *logx.Logger
	sess *session.Coordinator

	scopeStack []string
	ids        map[string]*signal
	rejected   map[string]bool
	order      []*session.Channel

	// channelByName persists across re-reads (Decode called more than
	// once on the same Decoder) so a $var seen again at the same
	// qualified name gets back the identical *session.Channel rather
	// than a new allocation.
	channelByName map[string]*session.Channel

	nextLogicIndex  int
	nextAnalogIndex int

	declDone       bool
	sessionStarted bool
	rateHz         uint64

	logicQueue   *feed.LogicQueue
	analogQueues map[*session.Channel]*feed.AnalogQueue
	analogLast   map[*session.Channel]float32
	bitImage     map[*session.Channel]byte

	primed bool
	lastTS int64

	minDelta     int64
	haveMinDelta bool
	tsSeen       int64
	milestones   map[int64]bool
}

// NewDecoder returns a fresh VCD decoder writing packets through sess.
func NewDecoder(sess *session.Coordinator, opts Options, log *logx.Logger) *Decoder {
	return &Decoder{
		sess:          sess,
		opts:          opts.normalized(),
		log:           log,
		ids:           map[string]*signal{},
		rejected:      map[string]bool{},
		channelByName: map[string]*session.Channel{},
		analogQueues:  map[*session.Channel]*feed.AnalogQueue{},
		analogLast:    map[*session.Channel]float32{},
		bitImage:      map[*session.Channel]byte{},
		milestones:    map[int64]bool{1_000_000: true, 100_000: true, 10_000: true, 2_500: true},
	}
}

// Channels returns the declared channel list, stable across repeated
// Decode calls on the same instance (the decoder never reallocates
// *session.Channel values already handed out).
func (d *Decoder) Channels() []*session.Channel { return d.order }

// Decode parses one complete VCD byte stream.
func (d *Decoder) Decode(data []byte) error {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	sc.Split(bufio.ScanWords)

	prevOrder := d.order
	if prevOrder != nil {
		// Re-read: reset per-parse state but keep the channel slice
		// identity so application-held pointers stay valid.
		d.ids = map[string]*signal{}
		d.rejected = map[string]bool{}
		d.nextLogicIndex, d.nextAnalogIndex = 0, 0
		d.declDone, d.sessionStarted = false, false
		d.primed = false
		d.lastTS = 0
		d.bitImage = map[*session.Channel]byte{}
		d.analogLast = map[*session.Channel]float32{}
		d.analogQueues = map[*session.Channel]*feed.AnalogQueue{}
		d.order = nil
	}

	for !d.declDone {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return sigerr.Wrap(sigerr.Data, module, "scan error", err)
			}
			return sigerr.New(sigerr.Data, module, "missing $enddefinitions")
		}
		if err := d.declToken(sc.Text(), sc); err != nil {
			return err
		}
	}
	if prevOrder != nil {
		if err := d.verifyStableChannels(prevOrder); err != nil {
			return err
		}
	}
	if err := d.startSession(); err != nil {
		return err
	}

	for sc.Scan() {
		if err := d.bodyToken(sc.Text(), sc); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return sigerr.Wrap(sigerr.Data, module, "scan error", err)
	}
	return d.finish()
}

func (d *Decoder) verifyStableChannels(prev []*session.Channel) error {
	if len(prev) != len(d.order) {
		return sigerr.New(sigerr.Data, module, "re-read produced a different channel count")
	}
	for i := range prev {
		if prev[i] != d.order[i] {
			return sigerr.New(sigerr.Data, module, "re-read did not preserve channel identity")
		}
	}
	return nil
}

func (d *Decoder) startSession() error {
	d.sess.SetChannels(d.order)
	if err := d.sess.SendHeader(); err != nil {
		return err
	}
	if d.rateHz != 0 {
		if err := d.sess.SendMeta("samplerate", d.rateHz); err != nil {
			return err
		}
	}
	unitSize := session.LogicUnitSize(d.order)
	if unitSize > 0 {
		q, err := feed.NewLogicQueue(unitSize, func(p session.LogicPayload) error {
			return d.sess.Send(session.Packet{Kind: session.LogicData, Logic: p})
		}, d.sess.SendTrigger, d.log)
		if err != nil {
			return err
		}
		d.logicQueue = q
	}
	d.sessionStarted = true
	return nil
}

func (d *Decoder) finish() error {
	if !d.declDone {
		return sigerr.New(sigerr.Data, module, "missing $enddefinitions")
	}
	if d.primed {
		if err := d.emitRepeat(1); err != nil { // final held sample
			return err
		}
	}
	if d.logicQueue != nil {
		if err := d.logicQueue.Flush(); err != nil {
			return err
		}
	}
	for _, q := range d.analogQueues {
		if err := q.Flush(); err != nil {
			return err
		}
	}
	d.reportTimestampStatistics()
	return d.sess.SendEnd()
}

// ---- declaration phase ----

func collectUntilEnd(sc *bufio.Scanner) ([]string, error) {
	var toks []string
	for sc.Scan() {
		t := sc.Text()
		if t == "$end" {
			return toks, nil
		}
		toks = append(toks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, sigerr.Wrap(sigerr.Data, module, "scan error", err)
	}
	return nil, sigerr.New(sigerr.Data, module, "declaration section missing $end")
}

func (d *Decoder) declToken(tok string, sc *bufio.Scanner) error {
	switch tok {
	case "$timescale":
		toks, err := collectUntilEnd(sc)
		if err != nil {
			return err
		}
		return d.applyTimescale(strings.Join(toks, ""))
	case "$scope":
		toks, err := collectUntilEnd(sc)
		if err != nil {
			return err
		}
		name := ""
		if len(toks) >= 2 {
			name = toks[1]
		}
		d.scopeStack = append(d.scopeStack, name)
		return nil
	case "$upscope":
		if _, err := collectUntilEnd(sc); err != nil {
			return err
		}
		if len(d.scopeStack) == 0 {
			return sigerr.New(sigerr.Data, module, "$upscope with no open $scope")
		}
		d.scopeStack = d.scopeStack[:len(d.scopeStack)-1]
		return nil
	case "$var":
		toks, err := collectUntilEnd(sc)
		if err != nil {
			return err
		}
		return d.applyVar(toks)
	case "$enddefinitions":
		if _, err := collectUntilEnd(sc); err != nil {
			return err
		}
		d.declDone = true
		return nil
	default:
		if strings.HasPrefix(tok, "$") {
			_, err := collectUntilEnd(sc)
			return err
		}
		return nil // blank/stray token between declarations
	}
}

func (d *Decoder) applyTimescale(joined string) error {
	i := 0
	for i < len(joined) && joined[i] >= '0' && joined[i] <= '9' {
		i++
	}
	if i == 0 {
		return sigerr.Newf(sigerr.Data, module, "bad $timescale %q", joined)
	}
	n, _ := strconv.Atoi(joined[:i])
	unitStr := joined[i:]
	if n != 1 && n != 10 && n != 100 {
		if d.log != nil {
			d.log.Warn("timescale multiplier is not 1/10/100, rounding", "n", n)
		}
	}
	var hz uint64
	switch unitStr {
	case "s":
		hz = 1
	case "ms":
		hz = 1_000
	case "us":
		hz = 1_000_000
	case "ns":
		hz = 1_000_000_000
	case "ps":
		hz = 1_000_000_000_000
	case "fs":
		hz = 1_000_000_000_000_000
	default:
		return sigerr.Newf(sigerr.Data, module, "unrecognized $timescale unit %q", unitStr)
	}
	if n == 0 {
		return sigerr.New(sigerr.Data, module, "zero $timescale multiplier")
	}
	d.rateHz = hz / uint64(n)
	return nil
}

func (d *Decoder) scopePrefix() string {
	var parts []string
	for _, s := range d.scopeStack {
		if s == SelfScopeName {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

func (d *Decoder) channelCapReached() bool {
	return d.opts.NumChannels > 0 && d.nextLogicIndex+d.nextAnalogIndex >= d.opts.NumChannels
}

func (d *Decoder) applyVar(toks []string) error {
	if len(toks) < 4 {
		return sigerr.New(sigerr.Data, module, "malformed $var declaration")
	}
	kindStr, sizeStr, id, name := toks[0], toks[1], toks[2], toks[3]
	index := ""
	if len(toks) >= 5 {
		index = toks[4]
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 1 {
		return sigerr.Newf(sigerr.Data, module, "bad $var size %q", sizeStr)
	}

	prefix := d.scopePrefix()
	qualify := func(n string) string {
		if prefix == "" {
			return n
		}
		return prefix + "." + n
	}

	switch kindStr {
	case "wire", "reg":
		if d.channelCapReached() {
			d.rejected[id] = true
			return nil
		}
		lower := 0
		if up, lo, ok := parseRange(index); ok {
			lower = lo
			_ = up
		}
		chans := make([]*session.Channel, size)
		for i := 0; i < size; i++ {
			var dispName string
			switch {
			case size == 1:
				dispName = qualify(name)
			case index != "":
				dispName = qualify(fmt.Sprintf("%s[%d]", name, lower+i))
			default:
				dispName = qualify(fmt.Sprintf("%s.%d", name, i))
			}
			ch := d.channelFor(dispName, session.Logic)
			chans[i] = ch
			d.order = append(d.order, ch)
		}
		d.ids[id] = &signal{kind: varLogic, channels: chans, width: size}
	case "real":
		if d.channelCapReached() {
			d.rejected[id] = true
			return nil
		}
		ch := d.channelFor(qualify(name), session.Analog)
		d.order = append(d.order, ch)
		d.ids[id] = &signal{kind: varReal, channels: []*session.Channel{ch}, width: size}
		d.analogQueues[ch] = feed.NewAnalogQueue(ch.Index, unit.Unknown, unit.None, 0, 6,
			func(p session.AnalogPayload) error { return d.sess.Send(session.Packet{Kind: session.AnalogData, Analog: p}) },
			d.sess.SendTrigger)
	case "integer":
		if d.channelCapReached() {
			d.rejected[id] = true
			return nil
		}
		ch := d.channelFor(qualify(name), session.Analog)
		d.order = append(d.order, ch)
		d.ids[id] = &signal{kind: varInteger, channels: []*session.Channel{ch}, width: size}
		d.analogQueues[ch] = feed.NewAnalogQueue(ch.Index, unit.Unknown, unit.None, 0, 0,
			func(p session.AnalogPayload) error { return d.sess.Send(session.Packet{Kind: session.AnalogData, Analog: p}) },
			d.sess.SendTrigger)
	case "string":
		d.ids[id] = &signal{kind: varString, width: size}
	default:
		return sigerr.Newf(sigerr.Data, module, "unrecognized $var type %q", kindStr)
	}
	return nil
}

// channelFor returns the channel previously created under dispName on
// an earlier Decode call on this Decoder, or allocates a new one. The
// dense per-kind index is only assigned on first creation, so a
// re-read of the same VCD structure hands back identical pointers
// with identical indices.
func (d *Decoder) channelFor(dispName string, kind session.ChannelKind) *session.Channel {
	if ch, ok := d.channelByName[dispName]; ok && ch.Kind == kind {
		return ch
	}
	var idx int
	if kind == session.Logic {
		idx = d.nextLogicIndex
		d.nextLogicIndex++
	} else {
		idx = d.nextAnalogIndex
		d.nextAnalogIndex++
	}
	ch := &session.Channel{Index: idx, Kind: kind, Enabled: true, Name: dispName}
	d.channelByName[dispName] = ch
	return ch
}

// parseRange parses a "[upper:lower]" index suffix.
func parseRange(s string) (upper, lower int, ok bool) {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return 0, 0, false
	}
	a, b, found := strings.Cut(s, ":")
	up, err1 := strconv.Atoi(a)
	if !found {
		return up, up, err1 == nil
	}
	lo, err2 := strconv.Atoi(b)
	return up, lo, err1 == nil && err2 == nil
}

// ---- body phase ----

func (d *Decoder) bodyToken(tok string, sc *bufio.Scanner) error {
	if tok == "" {
		return nil
	}
	switch {
	case tok[0] == '#':
		return d.handleTimestamp(tok[1:])
	case tok == "$dumpvars" || tok == "$dumpon" || tok == "$dumpoff":
		toks, err := collectUntilEnd(sc)
		if err != nil {
			return err
		}
		return d.processInlineValues(toks)
	case strings.HasPrefix(tok, "$"):
		_, err := collectUntilEnd(sc)
		return err
	case tok[0] == 'b' || tok[0] == 'B':
		id, err := nextToken(sc)
		if err != nil {
			return err
		}
		return d.handleVector(tok[1:], id)
	case tok[0] == 'r' || tok[0] == 'R':
		id, err := nextToken(sc)
		if err != nil {
			return err
		}
		return d.handleReal(tok[1:], id)
	case tok[0] == 's' || tok[0] == 'S':
		id, err := nextToken(sc)
		if err != nil {
			return err
		}
		return d.handleString(id)
	case isBitChar(tok[0]):
		return d.handleBit(tok[0], tok[1:])
	default:
		return sigerr.Newf(sigerr.Data, module, "unrecognized body token %q", tok)
	}
}

func nextToken(sc *bufio.Scanner) (string, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", sigerr.Wrap(sigerr.Data, module, "scan error", err)
		}
		return "", sigerr.New(sigerr.Data, module, "truncated value token")
	}
	return sc.Text(), nil
}

func (d *Decoder) processInlineValues(toks []string) error {
	i := 0
	for i < len(toks) {
		tok := toks[i]
		i++
		if tok == "" {
			continue
		}
		switch {
		case tok[0] == 'b' || tok[0] == 'B':
			if i >= len(toks) {
				return sigerr.New(sigerr.Data, module, "truncated vector token")
			}
			id := toks[i]
			i++
			if err := d.handleVector(tok[1:], id); err != nil {
				return err
			}
		case tok[0] == 'r' || tok[0] == 'R':
			if i >= len(toks) {
				return sigerr.New(sigerr.Data, module, "truncated real token")
			}
			id := toks[i]
			i++
			if err := d.handleReal(tok[1:], id); err != nil {
				return err
			}
		case tok[0] == 's' || tok[0] == 'S':
			i++ // skip id, string values are dropped
		case isBitChar(tok[0]):
			if err := d.handleBit(tok[0], tok[1:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func isBitChar(c byte) bool {
	switch c {
	case '0', '1', 'x', 'X', 'z', 'Z', 'l', 'L', 'h', 'H', 'u', 'U', '-':
		return true
	default:
		return false
	}
}

func bitValue(c byte) (byte, bool) {
	switch c {
	case '0', 'l', 'L':
		return 0, true
	case '1', 'h', 'H':
		return 1, true
	default:
		return 0, false // x/z/u/-: treated as 0 with a warning
	}
}

func (d *Decoder) handleBit(valueChar byte, id string) error {
	if d.rejected[id] {
		return nil
	}
	sig, ok := d.ids[id]
	if !ok {
		return nil // unknown id for a dropped/rejected signal: ignore
	}
	v, clean := bitValue(valueChar)
	if !clean && d.log != nil {
		d.log.Warn("non-clean bit value treated as 0", "value", string(valueChar), "id", id)
	}
	if sig.kind == varLogic && len(sig.channels) > 0 {
		d.bitImage[sig.channels[0]] = v
	}
	return nil
}

func (d *Decoder) handleVector(bits, id string) error {
	if d.rejected[id] {
		return nil
	}
	sig, ok := d.ids[id]
	if !ok {
		return nil
	}
	if sig.kind == varInteger {
		return d.handleIntegerVector(bits, sig)
	}
	if sig.kind != varLogic {
		return nil
	}
	if len(bits) > sig.width {
		return sigerr.Newf(sigerr.Data, module, "vector for id %q is %d bits, declared width %d", id, len(bits), sig.width)
	}
	// Little-endian by text: rightmost char is bit 0.
	for i, ch := range sig.channels {
		bitPos := len(bits) - 1 - i
		var v byte
		if bitPos >= 0 {
			c := bits[bitPos]
			val, _ := bitValue(c)
			v = val
		}
		d.bitImage[ch] = v
	}
	return nil
}

// handleIntegerVector converts an integer $var's b<bits> token into a
// float sample: value = sum(bit_k * 2^k), little-endian by text (the
// rightmost char is bit 0), matching handleVector's bit-ordering
// convention for logic vectors. Widths beyond 24 bits lose precision
// once accumulated into a float32 mantissa; values are not clamped or
// rejected for it, only rounded the way any float32 conversion would.
func (d *Decoder) handleIntegerVector(bits string, sig *signal) error {
	if len(sig.channels) == 0 {
		return nil
	}
	var value float64
	for bitPos := 0; bitPos < len(bits); bitPos++ {
		c := bits[len(bits)-1-bitPos]
		v, _ := bitValue(c)
		if v != 0 {
			value += math.Pow(2, float64(bitPos))
		}
	}
	d.analogLast[sig.channels[0]] = float32(value)
	return nil
}

func (d *Decoder) handleReal(floatStr, id string) error {
	if d.rejected[id] {
		return nil
	}
	sig, ok := d.ids[id]
	if !ok || sig.kind != varReal || len(sig.channels) == 0 {
		return nil
	}
	f, err := strconv.ParseFloat(floatStr, 32)
	if err != nil {
		return sigerr.Wrap(sigerr.Data, module, fmt.Sprintf("bad real value %q", floatStr), err)
	}
	d.analogLast[sig.channels[0]] = float32(f)
	return nil
}

func (d *Decoder) handleString(id string) error {
	if d.rejected[id] {
		return nil
	}
	if _, ok := d.ids[id]; !ok {
		return sigerr.Newf(sigerr.Data, module, "string value for unknown id %q", id)
	}
	return nil // string values carry no sample data; only id validity matters
}

func (d *Decoder) handleTimestamp(raw string) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return sigerr.Wrap(sigerr.Data, module, fmt.Sprintf("bad timestamp %q", raw), err)
	}
	ts /= int64(d.opts.Downsample)

	if !d.primed {
		switch {
		case d.opts.Skip > 0:
			if ts < d.opts.Skip {
				return nil
			}
			d.primed = true
			d.lastTS = ts
			return nil
		case d.opts.Skip == 0:
			d.primed = true
			d.lastTS = 0
		default: // auto
			d.primed = true
			d.lastTS = ts
			return nil
		}
	}

	if ts < d.lastTS {
		return sigerr.New(sigerr.Data, module, "timestamp went backwards")
	}
	if ts == d.lastTS {
		return nil
	}
	gap := ts - d.lastTS
	d.recordDelta(gap)
	if d.opts.Compress > 0 && gap > int64(d.opts.Compress) {
		gap = int64(d.opts.Compress)
	}
	if err := d.emitRepeat(int(gap)); err != nil {
		return err
	}
	d.lastTS = ts
	return nil
}

func (d *Decoder) packBits() []byte {
	size := session.LogicUnitSize(d.order)
	unitBytes := make([]byte, size)
	for _, ch := range d.order {
		if ch.Kind != session.Logic || !ch.Enabled {
			continue
		}
		if d.bitImage[ch] != 0 {
			unitBytes[ch.Index/8] |= 1 << uint(ch.Index%8)
		}
	}
	return unitBytes
}

func (d *Decoder) emitRepeat(n int) error {
	if n <= 0 {
		return nil
	}
	if d.logicQueue != nil {
		if err := d.logicQueue.Submit(d.packBits(), n); err != nil {
			return err
		}
	}
	for ch, q := range d.analogQueues {
		if err := q.Submit(d.analogLast[ch], n); err != nil {
			return err
		}
	}
	return nil
}

// recordDelta maintains the smallest observed distinct-timestamp
// delta and logs the resolution-advisory milestones below.
func (d *Decoder) recordDelta(delta int64) {
	d.tsSeen++
	if !d.haveMinDelta || delta < d.minDelta {
		d.minDelta = delta
		d.haveMinDelta = true
	}
	if d.milestones[d.tsSeen] && d.log != nil {
		scaled := d.minDelta
		threshold := map[int64]int64{1_000_000: 100, 100_000: 1_000, 10_000: 10_000, 2_500: 1_000_000}[d.tsSeen]
		if scaled*int64(d.opts.Downsample) < threshold {
			d.log.Warn("timestamp resolution is fine relative to sample count; consider a larger downsample",
				"seen", d.tsSeen, "min_delta", d.minDelta)
		}
	}
}

func (d *Decoder) reportTimestampStatistics() {
	if d.log == nil || !d.haveMinDelta {
		return
	}
	scaled := d.minDelta * int64(d.opts.Downsample)
	switch {
	case scaled >= 20:
		d.log.Warn("minimum timestamp delta is large; a larger downsample would still resolve all edges",
			"min_delta", d.minDelta, "suggested_downsample", scaled/10)
	case scaled >= 10:
		d.log.Info("minimum timestamp delta comfortably exceeds the sample grid", "min_delta", d.minDelta)
	}
}
