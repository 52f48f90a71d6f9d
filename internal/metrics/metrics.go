// Package metrics exposes classification quality counters via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Quality aggregates classification quality counters. All counters are
// monotonic; derived rates belong in the dashboard, not here.
type Quality struct {
	ClassificationTotal prometheus.Counter
	RuleHitTotal        prometheus.Counter
	AIFallbackTotal     prometheus.Counter
	EmptyTagTotal       prometheus.Counter
	UncategorizedTotal  prometheus.Counter
	DroppedTagTotal     prometheus.Counter
	FailedTotal         prometheus.Counter
}

// NewQuality creates and registers the quality counters on reg.
func NewQuality(reg prometheus.Registerer) *Quality {
	q := &Quality{
		ClassificationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_classification_total",
			Help: "Total classification decisions produced.",
		}),
		RuleHitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_rule_hit_total",
			Help: "Decisions produced by a rule candidate (direct or fallback).",
		}),
		AIFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_ai_fallback_total",
			Help: "Decisions where arbitration failed and a rule candidate was used.",
		}),
		EmptyTagTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_empty_tag_total",
			Help: "Decisions that produced no tags.",
		}),
		UncategorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_uncategorized_total",
			Help: "Decisions that landed in the uncategorized bucket.",
		}),
		DroppedTagTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_dropped_tag_total",
			Help: "Tags dropped because they were outside the taxonomy pool.",
		}),
		FailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starsorty_classification_failed_total",
			Help: "Classification attempts that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			q.ClassificationTotal,
			q.RuleHitTotal,
			q.AIFallbackTotal,
			q.EmptyTagTotal,
			q.UncategorizedTotal,
			q.DroppedTagTotal,
			q.FailedTotal,
		)
	}
	return q
}

// NopQuality returns unregistered counters, convenient for tests.
func NopQuality() *Quality {
	return NewQuality(nil)
}

// ObserveDecision updates the counters for one successful decision.
func (q *Quality) ObserveDecision(source string, category string, tagCount, droppedTags int) {
	q.ClassificationTotal.Inc()
	switch source {
	case "rule":
		q.RuleHitTotal.Inc()
	case "fallback-rule":
		q.RuleHitTotal.Inc()
		q.AIFallbackTotal.Inc()
	}
	if tagCount == 0 {
		q.EmptyTagTotal.Inc()
	}
	if category == "" || category == "uncategorized" || category == "other" {
		q.UncategorizedTotal.Inc()
	}
	if droppedTags > 0 {
		q.DroppedTagTotal.Add(float64(droppedTags))
	}
}
