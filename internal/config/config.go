// Package config loads the two run-time YAML tables the core consults
// but does not hard-code: the soft-trigger stage spec a capture session
// arms before it starts, and the DMM packet-family selector table used
// to pick which of fs9721/fs9922/metex14/es51922 to try against an
// unidentified serial packet stream.
//
// Both are read once at startup with gopkg.in/yaml.v3 into a typed
// value and then left immutable for the run, the same way the
// teacher's tocalls.yaml vendor/model table is loaded: search a short
// list of candidate locations, read whichever is found first, and fail
// soft with a descriptive error rather than panicking.
package config

import (
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/w1sig/sigtap/internal/decode/dmm"
	"github.com/w1sig/sigtap/internal/sigerr"
	"github.com/w1sig/sigtap/internal/trigger"
)

const module = "config"

// Search returns the first candidate path in locations that exists
// (os.Stat succeeds), or an error naming every path it tried. It does
// not check that the path can be opened for reading.
func Search(locations []string) (string, error) {
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", sigerr.Newf(sigerr.NA, module, "none of these locations exist: %s", strings.Join(locations, ", "))
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.NA, module, "open "+path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.NA, module, "read "+path, err)
	}
	return data, nil
}

// --- Soft-trigger spec ---

type triggerMatchYAML struct {
	Channel   int    `yaml:"channel"`
	Condition string `yaml:"condition"`
}

type triggerStageYAML struct {
	Matches []triggerMatchYAML `yaml:"matches"`
}

type triggerSpecYAML struct {
	Stages            []triggerStageYAML `yaml:"stages"`
	PreTriggerSamples int                `yaml:"pretrigger_samples"`
}

var conditionNames = map[string]trigger.Condition{
	"zero":    trigger.Zero,
	"one":     trigger.One,
	"rising":  trigger.Rising,
	"falling": trigger.Falling,
	"either":  trigger.Either,
}

// LoadTriggerSpec reads a YAML document of the form
//
//	pretrigger_samples: 64
//	stages:
//	  - matches:
//	      - {channel: 0, condition: rising}
//	  - matches:
//	      - {channel: 1, condition: one}
//
// and converts it into a trigger.Spec. Condition names are
// case-insensitive; an unrecognized name is a load error, not a
// silently-ignored stage.
func LoadTriggerSpec(path string) (trigger.Spec, error) {
	data, err := readFile(path)
	if err != nil {
		return trigger.Spec{}, err
	}
	var raw triggerSpecYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return trigger.Spec{}, sigerr.Wrap(sigerr.Data, module, "parse trigger spec "+path, err)
	}
	spec := trigger.Spec{PreTriggerSamples: raw.PreTriggerSamples}
	for i, st := range raw.Stages {
		var stage trigger.Stage
		for j, m := range st.Matches {
			cond, ok := conditionNames[strings.ToLower(m.Condition)]
			if !ok {
				return trigger.Spec{}, sigerr.Newf(sigerr.Data, module,
					"stage %d match %d: unrecognized condition %q", i, j, m.Condition)
			}
			stage.Matches = append(stage.Matches, trigger.StageMatch{Channel: m.Channel, Condition: cond})
		}
		spec.Stages = append(spec.Stages, stage)
	}
	return spec, nil
}

// --- DMM family table ---

// Family pairs a name with the Valid/Parse pair from internal/decode/dmm
// it selects.
type Family struct {
	Name  string
	Valid func([]byte) bool
	Parse func([]byte) (dmm.Reading, error)
}

var builtinFamilies = map[string]Family{
	"fs9721":  {Name: "fs9721", Valid: dmm.FS9721Valid, Parse: dmm.FS9721Parse},
	"fs9922":  {Name: "fs9922", Valid: dmm.FS9922Valid, Parse: dmm.FS9922Parse},
	"metex14": {Name: "metex14", Valid: dmm.Metex14Valid, Parse: dmm.Metex14Parse},
	"es51922": {Name: "es51922", Valid: dmm.ES51922Valid, Parse: dmm.ES51922Parse},
}

type familyTableYAML struct {
	Families []struct {
		Name string `yaml:"name"`
	} `yaml:"families"`
}

// LoadFamilyTable reads a YAML document of the form
//
//	families:
//	  - name: fs9721
//	  - name: es51922
//
// and resolves each entry to its built-in Valid/Parse pair, in the
// listed priority order. An unknown family name is a load error.
func LoadFamilyTable(path string) ([]Family, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var raw familyTableYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, sigerr.Wrap(sigerr.Data, module, "parse family table "+path, err)
	}
	if len(raw.Families) == 0 {
		return nil, sigerr.New(sigerr.Data, module, "family table has no entries")
	}
	families := make([]Family, 0, len(raw.Families))
	for _, f := range raw.Families {
		fam, ok := builtinFamilies[strings.ToLower(f.Name)]
		if !ok {
			return nil, sigerr.Newf(sigerr.Data, module, "unknown DMM family %q", f.Name)
		}
		families = append(families, fam)
	}
	return families, nil
}

// SelectFamily tries each family's Valid predicate in order and parses
// with the first match. It returns an error naming how many families
// were tried when none accepts the packet.
func SelectFamily(buf []byte, families []Family) (dmm.Reading, string, error) {
	for _, fam := range families {
		if fam.Valid(buf) {
			r, err := fam.Parse(buf)
			return r, fam.Name, err
		}
	}
	return dmm.Reading{}, "", sigerr.Newf(sigerr.Data, module, "no DMM family among %d accepted this packet", len(families))
}

// DefaultFamilyTable returns the four built-in families in the order
// FS9721, FS9922, Metex-14, ES51922, for callers that have no YAML
// table on disk.
func DefaultFamilyTable() []Family {
	return []Family{
		builtinFamilies["fs9721"],
		builtinFamilies["fs9922"],
		builtinFamilies["metex14"],
		builtinFamilies["es51922"],
	}
}
