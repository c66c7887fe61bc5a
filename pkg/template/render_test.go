package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlainText(t *testing.T) {
	_, e := setupEngine(t)
	out, err := e.Render("hello world", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderExprInterpolation(t *testing.T) {
	_, e := setupEngine(t)
	out, err := e.Render("The light is {{ states('light.living_room') }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "The light is on", out)
}

func TestRenderIfElifElse(t *testing.T) {
	_, e := setupEngine(t)
	tmpl := `{% if x == 1 %}one{% elif x == 2 %}two{% else %}other{% endif %}`

	out, err := e.Render(tmpl, map[string]Value{"x": Int(1)})
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	out, err = e.Render(tmpl, map[string]Value{"x": Int(2)})
	require.NoError(t, err)
	assert.Equal(t, "two", out)

	out, err = e.Render(tmpl, map[string]Value{"x": Int(3)})
	require.NoError(t, err)
	assert.Equal(t, "other", out)
}

func TestRenderIfWithoutElse(t *testing.T) {
	_, e := setupEngine(t)
	tmpl := `[{% if on %}lit{% endif %}]`
	out, err := e.Render(tmpl, map[string]Value{"on": Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderForLoop(t *testing.T) {
	_, e := setupEngine(t)
	tmpl := `{% for x in [1, 2, 3] %}{{ x }},{% endfor %}`
	out, err := e.Render(tmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "1,2,3,", out)
}

func TestRenderForLoopOverDomainEntities(t *testing.T) {
	_, e := setupEngine(t)
	tmpl := `{% for l in states.light() %}{{ l.object_id }}={{ l.state }};{% endfor %}`
	out, err := e.Render(tmpl, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "living_room=on;")
	assert.Contains(t, out, "bedroom=off;")
}

func TestEvalBoolForTriggerCondition(t *testing.T) {
	_, e := setupEngine(t)
	ok, err := e.EvalBool(`states('sensor.temperature') | float > 20`, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvalBool(`states('sensor.temperature') | float > 30`, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenderMissingEntityStaysEmptyNotError(t *testing.T) {
	_, e := setupEngine(t)
	out, err := e.Render(`[{{ states('sensor.missing') }}]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderParseErrorOnUnmatchedIf(t *testing.T) {
	_, e := setupEngine(t)
	_, err := e.Render(`{% if x == 1 %}one`, map[string]Value{"x": Int(1)})
	require.Error(t, err)
}
