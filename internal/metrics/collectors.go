// Package metrics exposes campaign and directory activity to Prometheus.
//
// Collectors are fed from the event bus, so the campaign and directory
// packages never import Prometheus. Labels are bounded: outcome values come
// from fixed sets and no chat or user id is ever used as a label.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tagbot/internal/eventbus"
)

type Collectors struct {
	reg *prometheus.Registry

	campaignsStarted  prometheus.Counter
	campaignsFinished *prometheus.CounterVec
	campaignsActive   prometheus.Gauge
	campaignDuration  prometheus.Histogram
	batches           *prometheus.CounterVec
	mentions          prometheus.Counter
	membersObserved   prometheus.Counter
	refreshes         *prometheus.CounterVec
	commands          *prometheus.HistogramVec

	busOnce sync.Once
}

func NewCollectors() *Collectors {
	c := &Collectors{
		reg: prometheus.NewRegistry(),
		campaignsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbot_campaigns_started_total",
			Help: "Campaigns accepted and scheduled.",
		}),
		campaignsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbot_campaigns_finished_total",
			Help: "Campaigns that reached a terminal state, by state.",
		}, []string{"outcome"}),
		campaignsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tagbot_campaigns_active",
			Help: "Campaigns currently dispatching.",
		}),
		campaignDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagbot_campaign_duration_seconds",
			Help:    "Wall time from start to terminal state.",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 240, 300, 600},
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbot_batches_total",
			Help: "Dispatcher batch attempts, by outcome (sent, skipped, rate_limited).",
		}, []string{"outcome"}),
		mentions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbot_mentions_sent_total",
			Help: "Members mentioned in delivered batches.",
		}),
		membersObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagbot_directory_observed_total",
			Help: "Member sightings written to the directory from chat traffic.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagbot_directory_refreshes_total",
			Help: "Administrator list refreshes, by result.",
		}, []string{"result"}),
		commands: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagbot_command_duration_seconds",
			Help:    "Command handler time, by command and result.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"command", "result"}),
	}
	c.reg.MustRegister(
		c.campaignsStarted, c.campaignsFinished, c.campaignsActive, c.campaignDuration,
		c.batches, c.mentions, c.membersObserved, c.refreshes, c.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

// Consume feeds events from bus into the collectors until ctx is done.
func (c *Collectors) Consume(ctx context.Context, bus eventbus.Bus) error {
	c.busOnce.Do(func() {
		c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tagbot_events_dropped_total",
			Help: "Bus events lost because a subscriber buffer was full.",
		}, func() float64 { return float64(bus.Dropped()) }))
	})
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe applies a single event.
func (c *Collectors) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.CampaignStarted:
		c.campaignsStarted.Inc()
		c.campaignsActive.Inc()
	case eventbus.CampaignBatch:
		ce, _ := ev.Data.(eventbus.CampaignEvent)
		c.batches.WithLabelValues(ce.Outcome).Inc()
		if ce.Outcome == "sent" {
			c.mentions.Add(float64(ce.BatchSize))
		}
	case eventbus.CampaignFinished:
		ce, _ := ev.Data.(eventbus.CampaignEvent)
		c.campaignsFinished.WithLabelValues(ce.Outcome).Inc()
		c.campaignsActive.Dec()
		c.campaignDuration.Observe(ce.Elapsed.Seconds())
	case eventbus.MemberObserved:
		de, _ := ev.Data.(eventbus.DirectoryEvent)
		c.membersObserved.Add(float64(max(de.Count, 1)))
	case eventbus.DirectoryRefresh:
		de, _ := ev.Data.(eventbus.DirectoryEvent)
		result := "ok"
		if de.Err != nil {
			result = "error"
		}
		c.refreshes.WithLabelValues(result).Inc()
	}
}

// ObserveCommand records one handled command. Only registered command names
// reach it, so the label set stays bounded.
func (c *Collectors) ObserveCommand(command string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(command, result).Observe(d.Seconds())
}

// ThrottleSource is satisfied by *directory.Service.
type ThrottleSource interface {
	Throttled() uint64
}

// WatchDirectory exports the observer's throttled sightings.
func (c *Collectors) WatchDirectory(src ThrottleSource) error {
	return c.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "tagbot_directory_throttled_total",
		Help: "Repeat member sightings not written because the group was over its observe rate.",
	}, func() float64 { return float64(src.Throttled()) }))
}
