package automation

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/hassd/pkg/ids"
)

// ExecutionMode governs how concurrent triggerings of the same
// automation are admitted while a prior run is still executing.
type ExecutionMode struct {
	Kind string // "single", "restart", "queued", "parallel"
	Max  int    // for queued/parallel, default 10
}

// SingleMode is the default: a new run is rejected while one is active.
var SingleMode = ExecutionMode{Kind: "single"}

// RestartMode always admits a new run; Engine.runAutomation cancels any
// run already in flight for the same automation before starting the new
// one (see Engine.cancels).
var RestartMode = ExecutionMode{Kind: "restart"}

// QueuedMode admits new runs up to max concurrent executions.
func QueuedMode(max int) ExecutionMode {
	if max <= 0 {
		max = 10
	}
	return ExecutionMode{Kind: "queued", Max: max}
}

// ParallelMode admits new runs up to max concurrent executions.
func ParallelMode(max int) ExecutionMode {
	if max <= 0 {
		max = 10
	}
	return ExecutionMode{Kind: "parallel", Max: max}
}

// canRun decides whether a new execution is admitted given the current
// in-flight run count, mirroring Automation::can_run.
func (m ExecutionMode) canRun(currentRuns int) bool {
	switch m.Kind {
	case "restart":
		return true
	case "queued", "parallel":
		return currentRuns < m.Max
	default: // single
		return currentRuns == 0
	}
}

// TraceConfig controls how many execution traces are retained per
// automation: the Engine's TraceStore keeps at most StoredTraces runs
// per automation and exposes them via Engine.Traces/LatestTrace.
type TraceConfig struct {
	StoredTraces int `json:"stored_traces"`
}

// DefaultTraceConfig matches the teacher default of keeping the last 5
// execution traces.
var DefaultTraceConfig = TraceConfig{StoredTraces: 5}

// Config is the on-disk/YAML representation of an automation, the
// shape produced by decoding `automation:` entries.
type Config struct {
	ID          string          `json:"id,omitempty" yaml:"id,omitempty"`
	Alias       string          `json:"alias,omitempty" yaml:"alias,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Triggers    []Trigger       `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Conditions  []Condition     `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions     []json.RawMessage `json:"action,omitempty" yaml:"action,omitempty"`
	Mode        string          `json:"mode,omitempty" yaml:"mode,omitempty"`
	Max         int             `json:"max,omitempty" yaml:"max,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Variables   json.RawMessage `json:"variables,omitempty" yaml:"variables,omitempty"`
	Trace       *TraceConfig    `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// UnmarshalJSON accepts "trigger"/"triggers", "condition"/"conditions",
// and "action"/"actions" interchangeably, concatenating both forms if a
// config somehow specifies both, matching Home Assistant's tolerance for
// either the singular or plural key.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := struct {
		*alias
		TriggersPlural   []Trigger         `json:"triggers,omitempty"`
		ConditionsPlural []Condition       `json:"conditions,omitempty"`
		ActionsPlural    []json.RawMessage `json:"actions,omitempty"`
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Triggers = append(c.Triggers, aux.TriggersPlural...)
	c.Conditions = append(c.Conditions, aux.ConditionsPlural...)
	c.Actions = append(c.Actions, aux.ActionsPlural...)
	return nil
}

func (c Config) isEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c Config) executionMode() ExecutionMode {
	switch c.Mode {
	case "restart":
		return RestartMode
	case "queued":
		return QueuedMode(c.Max)
	case "parallel":
		return ParallelMode(c.Max)
	default:
		return SingleMode
	}
}

// Automation is a loaded, runnable automation with mutable run-state.
type Automation struct {
	ID             string
	Alias          string
	Description    string
	Triggers       []Trigger
	Conditions     []Condition
	Actions        []json.RawMessage
	Mode           ExecutionMode
	Enabled        bool
	Variables      json.RawMessage
	LastTriggered  *time.Time
	CurrentRuns    int
	TraceConfig    TraceConfig
}

// FromConfig builds an Automation from its config, auto-generating a
// ULID id when the config doesn't supply one.
func FromConfig(cfg Config, now time.Time) Automation {
	id := cfg.ID
	if id == "" {
		id = ids.New(now)
	}
	trace := DefaultTraceConfig
	if cfg.Trace != nil {
		trace = *cfg.Trace
	}
	return Automation{
		ID:          id,
		Alias:       cfg.Alias,
		Description: cfg.Description,
		Triggers:    cfg.Triggers,
		Conditions:  cfg.Conditions,
		Actions:     cfg.Actions,
		Mode:        cfg.executionMode(),
		Enabled:     cfg.isEnabled(),
		Variables:   cfg.Variables,
		TraceConfig: trace,
	}
}

// DisplayName returns the alias, falling back to the id.
func (a Automation) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.ID
}

// CanRun reports whether a new execution should be admitted right now.
func (a Automation) CanRun() bool {
	if !a.Enabled {
		return false
	}
	return a.Mode.canRun(a.CurrentRuns)
}

// Manager owns the set of loaded automations and their mutable
// run-state, analogous to AutomationManager's DashMap-backed registry.
type Manager struct {
	mu          sync.RWMutex
	automations map[string]*Automation
	now         func() time.Time
}

// NewManager constructs an empty Manager. now supplies the clock used
// for auto-generated ids and last-triggered timestamps.
func NewManager(now func() time.Time) *Manager {
	return &Manager{
		automations: make(map[string]*Automation),
		now:         now,
	}
}

// Load replaces the manager's contents with the given configs.
func (m *Manager) Load(configs []Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range configs {
		a := FromConfig(cfg, m.now())
		if _, exists := m.automations[a.ID]; exists {
			return fmt.Errorf("automation: duplicate id %q", a.ID)
		}
		m.automations[a.ID] = &a
	}
	return nil
}

// Reload clears the manager and loads the given configs afresh.
func (m *Manager) Reload(configs []Config) error {
	m.mu.Lock()
	m.automations = make(map[string]*Automation)
	m.mu.Unlock()
	return m.Load(configs)
}

// LoadYAMLFile reads an automations.yaml-style file from path and loads
// it, the same os.ReadFile-then-parse shape as the teacher's `warren
// apply -f service.yaml`.
func (m *Manager) LoadYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("automation: read %s: %w", path, err)
	}
	configs, err := ParseYAML(data)
	if err != nil {
		return err
	}
	return m.Load(configs)
}

// Get returns a copy of the automation with the given id.
func (m *Manager) Get(id string) (Automation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.automations[id]
	if !ok {
		return Automation{}, false
	}
	return *a, true
}

// All returns a copy of every loaded automation.
func (m *Manager) All() []Automation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Automation, 0, len(m.automations))
	for _, a := range m.automations {
		out = append(out, *a)
	}
	return out
}

// Count returns the number of loaded automations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.automations)
}

// Add registers a new automation built from cfg, rejecting a duplicate
// id, and returns the assigned id.
func (m *Manager) Add(cfg Config) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := FromConfig(cfg, m.now())
	if _, exists := m.automations[a.ID]; exists {
		return "", fmt.Errorf("automation: duplicate id %q", a.ID)
	}
	m.automations[a.ID] = &a
	return a.ID, nil
}

// Remove deletes and returns the automation with the given id.
func (m *Manager) Remove(id string) (Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return Automation{}, fmt.Errorf("automation: not found %q", id)
	}
	delete(m.automations, id)
	return *a, nil
}

// Enable marks the automation as enabled.
func (m *Manager) Enable(id string) error { return m.setEnabled(id, true) }

// Disable marks the automation as disabled.
func (m *Manager) Disable(id string) error { return m.setEnabled(id, false) }

func (m *Manager) setEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return fmt.Errorf("automation: not found %q", id)
	}
	a.Enabled = enabled
	return nil
}

// Toggle flips the automation's enabled flag and returns the new value.
func (m *Manager) Toggle(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return false, fmt.Errorf("automation: not found %q", id)
	}
	a.Enabled = !a.Enabled
	return a.Enabled, nil
}

// MarkTriggered stamps the automation's last-triggered time.
func (m *Manager) MarkTriggered(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.automations[id]; ok {
		t := m.now()
		a.LastTriggered = &t
	}
}

// IncrementRuns bumps the in-flight run counter.
func (m *Manager) IncrementRuns(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.automations[id]; ok {
		a.CurrentRuns++
	}
}

// DecrementRuns decrements the in-flight run counter, saturating at 0.
func (m *Manager) DecrementRuns(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.automations[id]; ok && a.CurrentRuns > 0 {
		a.CurrentRuns--
	}
}

// TryAdmit attempts to admit a new run under id's execution mode,
// atomically incrementing the run counter on success. It returns
// false without mutating state if admission is denied.
func (m *Manager) TryAdmit(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return false, fmt.Errorf("automation: not found %q", id)
	}
	if !a.Enabled || !a.Mode.canRun(a.CurrentRuns) {
		return false, nil
	}
	a.CurrentRuns++
	return true, nil
}
