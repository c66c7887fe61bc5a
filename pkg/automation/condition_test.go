package automation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateConditionDeserialize(t *testing.T) {
	raw := `{"condition":"state","entity_id":"light.kitchen","state":"on"}`
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Equal(t, "state", c.Kind)
	assert.Equal(t, []string{"light.kitchen"}, c.State.EntityID.IDs)
	assert.True(t, c.State.State.Matches("on"))
}

func TestNumericStateConditionDeserialize(t *testing.T) {
	raw := `{"condition":"numeric_state","entity_id":"sensor.temp","above":20}`
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.NotNil(t, c.NumericState.Above)
	assert.Equal(t, 20.0, *c.NumericState.Above.Literal)
}

func TestTimeConditionDeserialize(t *testing.T) {
	raw := `{"condition":"time","after":"08:00:00","before":"20:00:00","weekday":["mon","tue"]}`
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c.Time.Weekday, 2)
	assert.Equal(t, Mon, c.Time.Weekday[0])
}

func TestAndConditionHelper(t *testing.T) {
	c := And(
		Condition{Kind: "state", State: &StateCondition{EntityID: EntityIDSpec{IDs: []string{"light.a"}}, State: StateMatch{Values: []string{"on"}}}},
		Condition{Kind: "state", State: &StateCondition{EntityID: EntityIDSpec{IDs: []string{"light.b"}}, State: StateMatch{Values: []string{"on"}}}},
	)
	assert.Equal(t, "and", c.Kind)
	assert.Len(t, c.And.Conditions, 2)
}

func TestTemplateConditionDeserialize(t *testing.T) {
	raw := `{"condition":"template","value_template":"{{ is_state('light.a', 'on') }}"}`
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, "{{ is_state('light.a', 'on') }}", c.Template.ValueTemplate)
}

func TestTriggerConditionDeserialize(t *testing.T) {
	raw := `{"condition":"trigger","id":"motion_trigger"}`
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, "motion_trigger", c.Trigger.ID)
}

func TestConditionHelpersNotOr(t *testing.T) {
	base := Condition{Kind: "state", State: &StateCondition{EntityID: EntityIDSpec{IDs: []string{"light.a"}}, State: StateMatch{Values: []string{"on"}}}}
	notC := Not(base)
	assert.Equal(t, "not", notC.Kind)
	assert.Equal(t, "state", notC.Not.Condition.Kind)

	orC := Or(base, base)
	assert.Equal(t, "or", orC.Kind)
	assert.Len(t, orC.Or.Conditions, 2)
}

func TestConditionUnknownKindErrors(t *testing.T) {
	var c Condition
	err := json.Unmarshal([]byte(`{"condition":"bogus"}`), &c)
	assert.Error(t, err)
}
