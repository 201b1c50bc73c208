package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromotionEvaluationsTotal counts cart evaluations by outcome.
	PromotionEvaluationsTotal *prometheus.CounterVec
	// PromotionEvaluationDuration records evaluation latency in milliseconds.
	PromotionEvaluationDuration prometheus.Histogram
	// PromotionAppliedTotal counts applied promotions per rule kind.
	PromotionAppliedTotal *prometheus.CounterVec
	// PromotionInvalidRulesTotal counts rules skipped for malformed data.
	PromotionInvalidRulesTotal *prometheus.CounterVec
	// PromotionRedemptionsTotal counts usage redemption outcomes.
	PromotionRedemptionsTotal *prometheus.CounterVec
	// CatalogCacheRequestsTotal counts product metadata cache lookups.
	CatalogCacheRequestsTotal *prometheus.CounterVec
	// DBQueryDuration records SQL latency in milliseconds by statement verb.
	DBQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromotionEvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_evaluations_total",
			Help:      "Count of cart evaluations by outcome.",
		}, []string{"result"})
		PromotionEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "promotion_evaluation_duration_ms",
			Help:      "Latency of cart evaluations in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		})
		PromotionAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_applied_total",
			Help:      "Count of promotions applied to lines or orders.",
		}, []string{"kind"})
		PromotionInvalidRulesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_invalid_rules_total",
			Help:      "Count of promotion rules skipped because of invalid data.",
		}, []string{"kind"})
		PromotionRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_redemptions_total",
			Help:      "Count of promotion usage redemptions by outcome.",
		}, []string{"result"})
		CatalogCacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_requests_total",
			Help:      "Count of product metadata cache lookups by result.",
		}, []string{"result"})
		DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_ms",
			Help:      "SQL statement latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"operation"})

		mustRegisterCollector(reg, PromotionEvaluationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionEvaluationsTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionEvaluationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				PromotionEvaluationDuration = v
			}
		})
		mustRegisterCollector(reg, PromotionAppliedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionAppliedTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionInvalidRulesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionInvalidRulesTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionRedemptionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionRedemptionsTotal = v
			}
		})
		mustRegisterCollector(reg, CatalogCacheRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CatalogCacheRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, DBQueryDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				DBQueryDuration = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
