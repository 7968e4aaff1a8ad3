package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratewatch_evaluations_total",
			Help: "Total number of snapshot evaluations",
		},
		[]string{"provenance"},
	)

	TriggersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewatch_triggers_total",
			Help: "Total number of alert trigger events emitted",
		},
	)

	AutoResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewatch_auto_resets_total",
			Help: "Total number of triggered alerts re-armed by auto-reset",
		},
	)

	// Scheduler metrics
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratewatch_fetch_total",
			Help: "Total number of rate fetch attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	BackgroundPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratewatch_background_passes_total",
			Help: "Total number of background refresh passes",
		},
		[]string{"status"}, // status: completed, expired, failed
	)

	// Feed metrics
	FeedReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewatch_feed_reconnects_total",
			Help: "Total number of live feed reconnect attempts",
		},
	)

	FeedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratewatch_feed_ticks_total",
			Help: "Total number of live feed ticks received",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratewatch_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"status"}, // status: shown, permission_denied, failed
	)

	BadgeCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratewatch_badge_count",
			Help: "Current number of alerts in triggered status",
		},
	)
)
