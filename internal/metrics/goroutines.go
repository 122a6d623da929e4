package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	rtsup "tagbot/internal/runtime/supervisor"
)

// SnapshotSource is satisfied by *supervisor.Supervisor.
type SnapshotSource interface {
	Snapshot() rtsup.Snapshot
}

// supervisorCollector reads a supervisor snapshot on every scrape.
type supervisorCollector struct {
	src      SnapshotSource
	active   *prometheus.Desc
	panics   *prometheus.Desc
	restarts *prometheus.Desc
}

func newSupervisorCollector(label string, src SnapshotSource) *supervisorCollector {
	cl := prometheus.Labels{"supervisor": label}
	return &supervisorCollector{
		src: src,
		active: prometheus.NewDesc("tagbot_goroutines_active",
			"Supervised goroutines currently running.", []string{"name"}, cl),
		panics: prometheus.NewDesc("tagbot_goroutine_panics_total",
			"Recovered panics in supervised goroutines.", []string{"name"}, cl),
		restarts: prometheus.NewDesc("tagbot_goroutine_restarts_total",
			"Restarts of supervised goroutines.", []string{"name"}, cl),
	}
}

func (c *supervisorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.panics
	ch <- c.restarts
}

func (c *supervisorCollector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.src.Snapshot().Goroutines {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(g.Active), g.Name)
		ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(g.Panics), g.Name)
		ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(g.Restarts), g.Name)
	}
}

// WatchSupervisor exports goroutine stats of src with a supervisor=label
// label. Registering the same label twice is an error.
func (c *Collectors) WatchSupervisor(label string, src SnapshotSource) error {
	return c.reg.Register(newSupervisorCollector(label, src))
}
