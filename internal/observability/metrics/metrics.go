package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request counts and latency per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profitledger_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if err := register(reg, m.requests, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// GinMiddleware observes every request; unmatched routes are folded into "unknown".
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Metrics exposes ledger-level instruments.
type Metrics struct {
	couponRedemptions   *prometheus.CounterVec
	discountsApplied    *prometheus.CounterVec
	purchases           *prometheus.CounterVec
	commissionEarnings  *prometheus.CounterVec
	commissionPoolUSD   prometheus.Counter
	entitlementsExhaust prometheus.Counter
	payoutTransitions   *prometheus.CounterVec
	rateLimitDenied     *prometheus.CounterVec
	schedulerJobRuns    *prometheus.CounterVec
	schedulerJobSeconds *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		couponRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_coupon_redemptions_total",
			Help: "Coupon redemption attempts by outcome.",
		}, []string{"outcome"}),
		discountsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_discounts_applied_total",
			Help: "Discounts applied to purchases by source.",
		}, []string{"source"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_purchases_total",
			Help: "Eligible purchases recorded by type.",
		}, []string{"purchase_type"}),
		commissionEarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_commission_earnings_total",
			Help: "Referral earning rows written by upline level.",
		}, []string{"level"}),
		commissionPoolUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profitledger_commission_distributed_usd_total",
			Help: "USD distributed to referral uplines.",
		}),
		entitlementsExhaust: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profitledger_entitlements_exhausted_total",
			Help: "Entitlements that ran out of profit allowance.",
		}),
		payoutTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_payout_request_transitions_total",
			Help: "Payout request state transitions by target status.",
		}, []string{"status"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_rate_limit_denied_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"endpoint", "reason"}),
		schedulerJobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profitledger_scheduler_job_runs_total",
			Help: "Scheduler job runs by outcome.",
		}, []string{"job", "outcome"}),
		schedulerJobSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profitledger_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	if err := register(reg,
		m.couponRedemptions,
		m.discountsApplied,
		m.purchases,
		m.commissionEarnings,
		m.commissionPoolUSD,
		m.entitlementsExhaust,
		m.payoutTransitions,
		m.rateLimitDenied,
		m.schedulerJobRuns,
		m.schedulerJobSeconds,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordCouponRedemption(outcome string) {
	if m == nil {
		return
	}
	m.couponRedemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDiscountApplied(source string) {
	if m == nil {
		return
	}
	m.discountsApplied.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordPurchase(purchaseType string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(purchaseType).Inc()
}

func (m *Metrics) RecordCommission(level int, amountUSD float64) {
	if m == nil {
		return
	}
	m.commissionEarnings.WithLabelValues(strconv.Itoa(level)).Inc()
	m.commissionPoolUSD.Add(amountUSD)
}

func (m *Metrics) RecordEntitlementExhausted() {
	if m == nil {
		return
	}
	m.entitlementsExhaust.Inc()
}

func (m *Metrics) RecordPayoutTransition(status string) {
	if m == nil {
		return
	}
	m.payoutTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRateLimitDenied(endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(endpoint, reason).Inc()
}

// RecordSchedulerJob counts a job run; outcome is ok, error or timeout.
func (m *Metrics) RecordSchedulerJob(job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.schedulerJobRuns.WithLabelValues(job, outcome).Inc()
	m.schedulerJobSeconds.WithLabelValues(job).Observe(elapsed.Seconds())
}

func register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
