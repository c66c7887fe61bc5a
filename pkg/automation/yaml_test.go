package automation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLBareList(t *testing.T) {
	doc := []byte(`
- id: morning_lights
  alias: Morning lights
  trigger:
    - trigger: time
      at: "06:30:00"
  action:
    - service: light.turn_on
      target:
        entity_id: light.kitchen
`)
	configs, err := ParseYAML(doc)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "morning_lights", configs[0].ID)
	require.Len(t, configs[0].Triggers, 1)
	assert.Equal(t, "time", configs[0].Triggers[0].Kind)
	require.Len(t, configs[0].Actions, 1)
}

func TestParseYAMLTopLevelAutomationsKey(t *testing.T) {
	doc := []byte(`
automation:
  - alias: Plural key form
    triggers:
      - trigger: homeassistant
        event: start
    actions:
      - service: script.welcome
`)
	configs, err := ParseYAML(doc)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "Plural key form", configs[0].Alias)
	require.Len(t, configs[0].Triggers, 1)
	assert.Equal(t, "homeassistant", configs[0].Triggers[0].Kind)
	assert.Len(t, configs[0].Actions, 1)
}

func TestParseYAMLEmptyDocument(t *testing.T) {
	configs, err := ParseYAML([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestParseYAMLRejectsUnknownShape(t *testing.T) {
	_, err := ParseYAML([]byte("just_a_string"))
	assert.Error(t, err)
}

func TestManagerLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "automations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: from_file
  alias: Loaded from file
  trigger:
    - trigger: event
      event_type: test_event
  action:
    - service: script.run
`), 0o644))

	m := NewManager(fixedNow)
	require.NoError(t, m.LoadYAMLFile(path))

	a, ok := m.Get("from_file")
	require.True(t, ok)
	assert.Equal(t, "Loaded from file", a.Alias)
}

func TestManagerLoadYAMLFileMissingPath(t *testing.T) {
	m := NewManager(fixedNow)
	err := m.LoadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
