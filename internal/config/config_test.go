package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w1sig/sigtap/internal/trigger"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTriggerSpec(t *testing.T) {
	path := writeTemp(t, "trigger.yaml", `
pretrigger_samples: 8
stages:
  - matches:
      - {channel: 0, condition: rising}
  - matches:
      - {channel: 1, condition: ONE}
`)
	spec, err := LoadTriggerSpec(path)
	require.NoError(t, err)
	assert.Equal(t, 8, spec.PreTriggerSamples)
	require.Len(t, spec.Stages, 2)
	assert.Equal(t, trigger.StageMatch{Channel: 0, Condition: trigger.Rising}, spec.Stages[0].Matches[0])
	assert.Equal(t, trigger.StageMatch{Channel: 1, Condition: trigger.One}, spec.Stages[1].Matches[0])
}

func TestLoadTriggerSpec_UnknownConditionErrors(t *testing.T) {
	path := writeTemp(t, "trigger.yaml", `
stages:
  - matches:
      - {channel: 0, condition: sideways}
`)
	_, err := LoadTriggerSpec(path)
	assert.Error(t, err)
}

func TestLoadFamilyTable(t *testing.T) {
	path := writeTemp(t, "families.yaml", `
families:
  - name: es51922
  - name: FS9721
`)
	families, err := LoadFamilyTable(path)
	require.NoError(t, err)
	require.Len(t, families, 2)
	assert.Equal(t, "es51922", families[0].Name)
	assert.Equal(t, "fs9721", families[1].Name)
}

func TestLoadFamilyTable_UnknownNameErrors(t *testing.T) {
	path := writeTemp(t, "families.yaml", "families:\n  - name: bogus\n")
	_, err := LoadFamilyTable(path)
	assert.Error(t, err)
}

func TestLoadFamilyTable_EmptyErrors(t *testing.T) {
	path := writeTemp(t, "families.yaml", "families: []\n")
	_, err := LoadFamilyTable(path)
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	path := writeTemp(t, "present.yaml", "families: []\n")
	found, err := Search([]string{filepath.Join(t.TempDir(), "missing.yaml"), path})
	require.NoError(t, err)
	assert.Equal(t, path, found)
}

func TestSearch_NoneExistErrors(t *testing.T) {
	_, err := Search([]string{filepath.Join(t.TempDir(), "a.yaml"), filepath.Join(t.TempDir(), "b.yaml")})
	assert.Error(t, err)
}

func TestDefaultFamilyTable_AllZeroBufferMatchesNoFamily(t *testing.T) {
	families := DefaultFamilyTable()
	require.Len(t, families, 4)
	buf := make([]byte, 14)
	_, _, err := SelectFamily(buf, families)
	assert.Error(t, err) // an all-zero buffer matches no family
}
