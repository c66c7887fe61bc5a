package hass

import (
	"time"

	"github.com/cuemby/hassd/internal/metrics"
)

// Collector periodically scrapes gauge-shaped metrics off a Facade that
// no single write site is a natural place to update — entity count,
// loaded-automation count, outstanding-notification count — the same
// ticker+stopCh shape as the teacher's pkg/manager/metrics_collector.go,
// generalized from node/service/volume/raft counts to this module's own
// subsystems.
type Collector struct {
	facade   *Facade
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a Collector scraping facade every 15 seconds,
// matching the teacher's collection interval.
func NewCollector(facade *Facade) *Collector {
	return &Collector{
		facade:   facade,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics in a background goroutine, collecting
// once immediately before the first tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectEntityMetrics()
	c.collectAutomationMetrics()
	c.collectNotificationMetrics()
}

func (c *Collector) collectEntityMetrics() {
	metrics.EntitiesTotal.Set(float64(len(c.facade.States.AllEntityIDs())))
}

func (c *Collector) collectAutomationMetrics() {
	metrics.AutomationsLoaded.Set(float64(c.facade.Automations.Count()))
}

func (c *Collector) collectNotificationMetrics() {
	metrics.NotificationsTotal.Set(float64(c.facade.Notifications.Len()))
}
