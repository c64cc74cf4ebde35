// Package metrics exposes the toolkit's ambient Prometheus instrumentation:
// live-channel/session gauges, publish-queue depth, and dropped-
// notification counters (SPEC_FULL §2 domain-stack wiring; carried
// regardless of spec.md's PubSub-scheduler Non-goal, which excludes the
// scheduler itself, not observability of the core).
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the core updates. Callers register it with
// their own prometheus.Registerer (the core never starts an HTTP server
// itself — that is host-supplied plumbing, per spec.md §6).
type Registry struct {
	LiveChannels        prometheus.Gauge
	LiveSessions        prometheus.Gauge
	PublishQueueDepth   *prometheus.GaugeVec
	DroppedNotifications *prometheus.CounterVec
	TokenRenewals       prometheus.Counter
	SecurityRejections  *prometheus.CounterVec
}

// New constructs and registers every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		LiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcuacore", Name: "live_channels", Help: "Number of currently live Secure Channels.",
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcuacore", Name: "live_sessions", Help: "Number of currently tracked sessions (active + orphaned).",
		}),
		PublishQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opcuacore", Name: "publish_queue_depth", Help: "Pending notifications per subscription.",
		}, []string{"subscription_id"}),
		DroppedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opcuacore", Name: "dropped_notifications_total", Help: "Notifications dropped by queue overflow, per subscription.",
		}, []string{"subscription_id"}),
		TokenRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opcuacore", Name: "token_renewals_total", Help: "Completed Secure Channel token renewals.",
		}),
		SecurityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opcuacore", Name: "security_rejections_total", Help: "Channel closures due to failed security checks, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.LiveChannels, m.LiveSessions, m.PublishQueueDepth, m.DroppedNotifications, m.TokenRenewals, m.SecurityRejections)
	return m
}
