/*
Package health provides health check mechanisms for monitoring the
reachability of the devices and services behind config entries.

This package implements three external health checks (HTTP, TCP, and
Exec) plus FuncChecker, an in-process probe (see func.go).
A config entry's SetupFunc can register a Checker with a Monitor so that a
lost connection to a hub, bridge, or API is detected even when no state
update or event ever arrives to say so.

# Architecture

The health check system follows a modular checker design:

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	│Checker │  │Checker│ │Checker │
	└────────┘  └──────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /    Connect      Run local
	  /health    :port      command

## Health Check Flow

 1. A config entry's SetupFunc registers a Checker with a Monitor.
 2. Wait for StartPeriod (grace period for slow-to-respond hubs).
 3. Every Interval: run the check.
 4. If the check fails: increment consecutive failures.
 5. If failures >= Retries: mark the entry unhealthy.
 6. The facade can surface unhealthy entries without waiting on a
    state_changed event that may never come from a dead connection.

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify a device or bridge's local
API is responding:

	Check Type: HTTP
	Configuration:
	├── URL: http://192.168.1.10/api/health
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

## TCP Health Checks

TCP checks verify that a port is listening and accepting connections —
useful for devices that expose a raw socket (MQTT brokers, some Zigbee
coordinators) rather than an HTTP endpoint:

	Check Type: TCP
	Configuration:
	├── Address: 192.168.1.20:1883
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

## Exec Health Checks

Exec checks run a local command and check its exit code — useful for
checking a USB/serial adapter's presence or a local helper process:

	Check Type: Exec
	Configuration:
	├── Command: ["ping", "-c", "1", "192.168.1.30"]
	├── Timeout: 10 seconds
	├── Exit code 0 → Healthy
	└── Exit code != 0 → Unhealthy

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

## Result and Status

	type Result struct {
		Healthy   bool
		Message   string
		CheckedAt time.Time
		Duration  time.Duration
	}

	type Status struct {
		ConsecutiveFailures  int
		ConsecutiveSuccesses int
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool
		StartedAt            time.Time
	}

Status.Update implements hysteresis: several consecutive failures are
required before flipping to unhealthy, and a single success restores it,
preventing flapping from a transient network blip.

## Monitor

Monitor runs named Checkers on their own interval and keeps their
Status, so a config entry's SetupFunc never has to hand-roll a
ticker+goroutine per integration:

	monitor := health.NewMonitor()
	monitor.Register("hue-bridge", health.NewHTTPChecker("http://192.168.1.10/api"), health.Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	})
	defer monitor.Stop()

	status, ok := monitor.Status("hue-bridge")

# Design Patterns

## Strategy Pattern

	Checker (interface)
	├── HTTPChecker
	├── TCPChecker
	└── ExecChecker

## Builder Pattern

	checker := NewHTTPChecker(url).
		WithMethod("POST").
		WithHeader("Auth", "token").
		WithTimeout(5 * time.Second)

## Hysteresis Pattern

	Healthy → 1 failure → still healthy
	Healthy → 3 failures (Retries) → unhealthy
	Unhealthy → 1 success → healthy

# See Also

  - pkg/configentry - registers Checkers for a domain's devices during setup
  - pkg/hass - owns the Monitor instance config entries register against
*/
package health
