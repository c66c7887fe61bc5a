// Package hass assembles every subsystem package into one facade: the
// runtime entrypoints (cmd/hassd, integration setup callbacks) see a
// single *Facade rather than wiring the event bus, state store,
// registries, and automation engine by hand.
//
// Construction order mirrors the teacher's pkg/manager.NewManager:
// leaf dependencies first (storage, event bus), then the things built
// on top of them (state store, registries, services, templates), then
// the things built on top of those (notifications, script executor,
// automation engine), with config entries wired last since their
// SetupFunc/UnloadFunc callbacks receive the finished Facade.
package hass

import (
	"context"
	"os"
	"time"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/pkg/automation"
	"github.com/cuemby/hassd/pkg/configentry"
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/events"
	"github.com/cuemby/hassd/pkg/health"
	"github.com/cuemby/hassd/pkg/notify"
	"github.com/cuemby/hassd/pkg/registry"
	"github.com/cuemby/hassd/pkg/script"
	"github.com/cuemby/hassd/pkg/service"
	"github.com/cuemby/hassd/pkg/state"
	"github.com/cuemby/hassd/pkg/storage"
	"github.com/cuemby/hassd/pkg/template"
)

// configEntrySweepSchedule re-checks for config entries stuck in
// SetupRetry with a lost backoff timer every 30s; see
// configentry.Manager.StartSweep.
const configEntrySweepSchedule = "*/30 * * * * *"

// Config holds the inputs needed to assemble a Facade.
type Config struct {
	// ConfigDir is the root directory holding the ".storage/" tree.
	ConfigDir string
	// Now defaults to time.Now when left nil; tests override it for a
	// deterministic clock, the same convention every leaf package uses.
	Now core.Clock
}

// Facade is the assembled runtime: every subsystem a config entry's
// SetupFunc/UnloadFunc, a service handler, or cmd/hassd needs, reachable
// off one value instead of a dozen constructor calls.
type Facade struct {
	Bus       *events.Broker
	States    *state.Store
	Services  *service.Registry
	Templates *template.Engine
	Storage   *storage.Storage

	Entities *registry.Registry
	Devices  *registry.DeviceRegistry
	Areas    *registry.AreaRegistry
	Floors   *registry.FloorRegistry
	Labels   *registry.LabelRegistry

	Notifications *notify.Manager
	HealthChecks  *health.Monitor

	Scripts     *script.Executor
	Automations *automation.Manager
	Engine      *automation.Engine

	Entries *configentry.Manager

	now core.Clock
}

// New assembles a Facade from cfg. The returned Facade's automation
// engine is not yet running; call Start to begin processing events.
func New(cfg Config) *Facade {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	store := storage.New(cfg.ConfigDir)
	bus := events.NewBroker(now)
	states := state.New(bus, now)
	services := service.New()
	tmpl := template.NewEngine(states, now)

	f := &Facade{
		Bus:       bus,
		States:    states,
		Services:  services,
		Templates: tmpl,
		Storage:   store,

		Entities: registry.NewRegistry(store, now),
		Devices:  registry.NewDeviceRegistry(store, now),
		Areas:    registry.NewAreaRegistry(store, now),
		Floors:   registry.NewFloorRegistry(store, now),
		Labels:   registry.NewLabelRegistry(store, now),

		Notifications: notify.New(now),
		HealthChecks:  health.NewMonitor(),

		now: now,
	}

	f.Scripts = script.NewExecutor(states, services, tmpl, bus, now)
	f.Automations = automation.NewManager(now)
	f.Engine = automation.NewEngine(bus, states, tmpl, f.Automations, f.Scripts, now)

	f.Entries = configentry.New(store, now, f)

	f.HealthChecks.Register("event_bus", health.NewFuncChecker(busLivenessProbe(bus)), health.DefaultConfig())
	f.HealthChecks.Register("storage", health.NewFuncChecker(storageLivenessProbe(store)), health.DefaultConfig())

	return f
}

// busLivenessProbe confirms the event bus is still servicing
// subscribe/unsubscribe calls without panicking or deadlocking.
func busLivenessProbe(bus *events.Broker) func(ctx context.Context) (bool, string) {
	return func(ctx context.Context) (bool, string) {
		sub := bus.Subscribe("hassd.health_check.ping")
		bus.Unsubscribe("hassd.health_check.ping", sub)
		return true, "event bus accepting subscriptions"
	}
}

// storageLivenessProbe confirms the .storage/ directory backing every
// entity/registry/config-entry store is still reachable.
func storageLivenessProbe(s *storage.Storage) func(ctx context.Context) (bool, string) {
	return func(ctx context.Context) (bool, string) {
		if _, err := os.Stat(s.Dir()); err != nil {
			return false, err.Error()
		}
		return true, "storage directory reachable"
	}
}

// Start brings up the subsystems that run in the background: the
// automation engine's event-processing loop and the config entry
// retry sweep.
func (f *Facade) Start(ctx context.Context) {
	f.Engine.Start()
	if err := f.Entries.StartSweep(ctx, configEntrySweepSchedule); err != nil {
		log.WithComponent("hass_facade").Error().Err(err).Msg("failed to start config entry retry sweep")
	}
}

// Stop tears down the background subsystems started by Start, and any
// health checks config entries registered along the way.
func (f *Facade) Stop() {
	f.Engine.Stop()
	f.Entries.StopSweep()
	f.HealthChecks.Stop()
}

// FireEvent publishes an event on the bus under ctx, timestamped with
// the facade's clock. It's the one bus-write helper every integration
// and service handler shares instead of reaching for events.NewEvent
// directly.
func (f *Facade) FireEvent(eventType string, data any, evtCtx core.Context) error {
	evt, err := core.NewEvent(eventType, data, evtCtx, f.now())
	if err != nil {
		return err
	}
	f.Bus.Fire(&evt)
	return nil
}
