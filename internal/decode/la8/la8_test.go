package la8

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w1sig/sigtap/internal/session"
)

func buildCapture(fill byte, divcount byte, triggerIndex uint32) []byte {
	buf := make([]byte, InputBytes)
	for i := range buf[:BodyBytes] {
		buf[i] = fill
	}
	buf[BodyBytes] = divcount
	binary.LittleEndian.PutUint32(buf[BodyBytes+1:], triggerIndex)
	return buf
}

// TestLA8_ScenarioOne decodes 8 MiB of 0xAA with divcount=1 and a
// trigger at unit 16384, expecting SAMPLERATE=50MHz and a TRIGGER that
// lands after the 16384th unit.
func TestLA8_ScenarioOne(t *testing.T) {
	buf := buildCapture(0xAA, 0x01, 0x00004000)

	var kinds []session.Kind
	var samplerate uint64
	var logicBytes int
	unitsBeforeTrigger := 0
	triggerSeen := false
	allAA := true

	sess := session.New(func(p session.Packet) {
		kinds = append(kinds, p.Kind)
		switch p.Kind {
		case session.Meta:
			if p.Meta.Key == "samplerate" {
				samplerate = p.Meta.Value.(uint64)
			}
		case session.LogicData:
			logicBytes += len(p.Logic.Bytes)
			if !triggerSeen {
				unitsBeforeTrigger += p.Logic.NumUnits()
			}
			for _, b := range p.Logic.Bytes {
				if b != 0xAA {
					allAA = false
				}
			}
		case session.Trigger:
			triggerSeen = true
		}
	}, nil)

	require.NoError(t, Decode(sess, buf))

	assert.Equal(t, uint64(50_000_000), samplerate)
	assert.Equal(t, BodyBytes, logicBytes)
	assert.True(t, allAA)
	assert.Equal(t, 16384, unitsBeforeTrigger)
	assert.Contains(t, kinds, session.Trigger)
	assert.Equal(t, session.Header, kinds[0])
	assert.Equal(t, session.End, kinds[len(kinds)-1])
}

func TestLA8_NoSampleRateSentinelOmitsMeta(t *testing.T) {
	buf := buildCapture(0x00, NoSampleRate, 0)
	sawMeta := false
	sess := session.New(func(p session.Packet) {
		if p.Kind == session.Meta {
			sawMeta = true
		}
	}, nil)
	require.NoError(t, Decode(sess, buf))
	assert.False(t, sawMeta)
}

func TestLA8_RejectsWrongLength(t *testing.T) {
	sess := session.New(func(session.Packet) {}, nil)
	err := Decode(sess, make([]byte, InputBytes-1))
	assert.Error(t, err)
}

func TestLA8_RejectsOutOfRangeTriggerIndex(t *testing.T) {
	buf := buildCapture(0, 0, uint32(BodyBytes+1))
	sess := session.New(func(session.Packet) {}, nil)
	assert.Error(t, Decode(sess, buf))
}

func TestLA8_Divcount255IsNoSampleRateSentinel(t *testing.T) {
	buf := buildCapture(0, 255, 0)
	sess := session.New(func(session.Packet) {}, nil)
	require.NoError(t, Decode(sess, buf))
}
