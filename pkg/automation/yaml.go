package automation

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes an `automations.yaml`-style document into Configs.
// The document may be a bare list of automations (Home Assistant's
// native `automations.yaml` shape) or a map with a top-level
// `automation`/`automations` key holding that list, mirroring Config's
// own singular/plural tolerance.
//
// Decoding goes through an intermediate `any` rather than a direct
// `yaml.Unmarshal(data, &configs)`, then re-marshals each entry to JSON
// and feeds it through Config's existing UnmarshalJSON: that's the one
// place the trigger/condition/action polymorphic dispatch already
// lives (see trigger.go, condition.go), and duplicating it as
// yaml.Unmarshaler methods would mean two dispatch tables to keep in
// sync with one shape.
func ParseYAML(data []byte) ([]Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("automation: parse yaml: %w", err)
	}

	list, err := automationList(doc)
	if err != nil {
		return nil, err
	}

	configs := make([]Config, 0, len(list))
	for i, entry := range list {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("automation: entry %d: %w", i, err)
		}
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("automation: entry %d: %w", i, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func automationList(doc any) ([]any, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		if list, ok := v["automation"]; ok {
			return asList(list)
		}
		if list, ok := v["automations"]; ok {
			return asList(list)
		}
		return nil, fmt.Errorf("automation: yaml document has neither a top-level list nor an automation/automations key")
	default:
		return nil, fmt.Errorf("automation: unsupported yaml document shape %T", doc)
	}
}

func asList(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("automation: automation/automations key must be a list, got %T", v)
	}
	return list, nil
}
