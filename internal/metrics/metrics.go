package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_joins_total",
			Help: "Join attempts by result.",
		},
		[]string{"result"}, // joined, rejoined, activated, error
	)
	ChoicesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_choices_total",
			Help: "Recorded choice submissions by participant kind.",
		},
		[]string{"participant"}, // human, bot
	)
	ProgressionStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_progression_steps_total",
			Help: "Progression engine steps by result.",
		},
		[]string{"result"},
	)
	ContentDefectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_content_defects_total",
			Help: "Content authoring defects observed at runtime.",
		},
		[]string{"defect"}, // dangling_target, no_visible_choices, missing_start
	)
	BotChatTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_bot_chat_total",
			Help: "Bot chat lines by source.",
		},
		[]string{"source"}, // periodic, reply, skipped, dropped
	)
	SchedulerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_scheduler_tasks_total",
			Help: "Scheduled tasks by kind and status.",
		},
		[]string{"kind", "status"}, // scheduled, claimed, done, failed, fallback
	)
	TextgenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiverse_textgen_requests_total",
			Help: "Text generation requests by provider and status.",
		},
		[]string{"provider", "status"},
	)
	TextgenDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiverse_textgen_duration_seconds",
			Help:    "Text generation request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
