package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitsOf(vals ...byte) [][]byte {
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte{v}
	}
	return out
}

func TestEngine_RewindFindsShiftedPattern(t *testing.T) {
	// Pattern 0,0,0,1 against input 0,0,0,0,1 must fire at the final
	// unit (index 4), not fail outright on the naive 0..3 window.
	spec := Spec{
		Stages: []Stage{
			{Matches: []StageMatch{{Channel: 0, Condition: Zero}}},
			{Matches: []StageMatch{{Channel: 0, Condition: Zero}}},
			{Matches: []StageMatch{{Channel: 0, Condition: Zero}}},
			{Matches: []StageMatch{{Channel: 0, Condition: One}}},
		},
		PreTriggerSamples: 0,
	}
	e, err := New(spec, 1, []bool{true})
	require.NoError(t, err)

	units := unitsOf(0, 0, 0, 0, 1)
	fireIdx := -1
	for i, u := range units {
		for _, ev := range e.Feed(u) {
			if ev.Kind == EventTrigger {
				fireIdx = i
			}
		}
	}
	assert.Equal(t, 4, fireIdx)
}

func TestEngine_MultiStageWithPreTrigger(t *testing.T) {
	// Stages: ch0 rising edge, then ch1 == 1. Input 0x00,0x01,0x03,0x03,0x03.
	spec := Spec{
		Stages: []Stage{
			{Matches: []StageMatch{{Channel: 0, Condition: Rising}}},
			{Matches: []StageMatch{{Channel: 1, Condition: One}}},
		},
		PreTriggerSamples: 3,
	}
	e, err := New(spec, 1, []bool{true, true})
	require.NoError(t, err)

	units := unitsOf(0x00, 0x01, 0x03, 0x03, 0x03)
	var preTrigger []byte
	triggered := false
	var post [][]byte
	for _, u := range units {
		for _, ev := range e.Feed(u) {
			switch ev.Kind {
			case EventForward:
				if !triggered {
					preTrigger = append(preTrigger, ev.Unit[0])
				} else {
					post = append(post, ev.Unit)
				}
			case EventTrigger:
				triggered = true
			}
		}
	}
	assert.True(t, triggered)
	assert.Equal(t, []byte{0x00, 0x01, 0x03}, preTrigger)
	assert.Len(t, post, 2) // the two remaining 0x03 units after the trigger
}

func TestEngine_EdgeNeverMatchesFirstSample(t *testing.T) {
	spec := Spec{
		Stages:            []Stage{{Matches: []StageMatch{{Channel: 0, Condition: Rising}}}},
		PreTriggerSamples: 0,
	}
	e, err := New(spec, 1, []bool{true})
	require.NoError(t, err)

	events := e.Feed([]byte{0x01})
	for _, ev := range events {
		assert.NotEqual(t, EventTrigger, ev.Kind)
	}
	assert.False(t, e.Fired())
}

func TestEngine_DisabledChannelIgnoredInMatch(t *testing.T) {
	spec := Spec{
		Stages: []Stage{{Matches: []StageMatch{
			{Channel: 0, Condition: One},
			{Channel: 1, Condition: One}, // channel 1 is disabled, should be ignored
		}}},
		PreTriggerSamples: 0,
	}
	e, err := New(spec, 1, []bool{true, false})
	require.NoError(t, err)

	fired := false
	for _, ev := range e.Feed([]byte{0x01}) { // ch0=1, ch1=0
		if ev.Kind == EventTrigger {
			fired = true
		}
	}
	assert.True(t, fired, "disabled channel's failing condition must not block the stage")
}

func TestEngine_EmptyStageIsConstructionError(t *testing.T) {
	spec := Spec{Stages: []Stage{{Matches: nil}}}
	_, err := New(spec, 1, nil)
	assert.Error(t, err)
}

func TestEngine_TriggerFiresAtMostOnce(t *testing.T) {
	spec := Spec{
		Stages:            []Stage{{Matches: []StageMatch{{Channel: 0, Condition: One}}}},
		PreTriggerSamples: 0,
	}
	e, err := New(spec, 1, []bool{true})
	require.NoError(t, err)

	triggerCount := 0
	for _, v := range []byte{1, 1, 1} {
		for _, ev := range e.Feed([]byte{v}) {
			if ev.Kind == EventTrigger {
				triggerCount++
			}
		}
	}
	assert.Equal(t, 1, triggerCount)
}
