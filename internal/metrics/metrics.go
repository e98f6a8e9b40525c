package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	SignTotal       *prometheus.CounterVec
	SignLatency     *prometheus.HistogramVec
	QuotaRejections prometheus.Counter
	TokensRecorded  prometheus.Counter
	ProbeTotal      *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		SignTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oneweb_ai_sign_total",
			Help: "Signed-URL requests by vendor and outcome",
		}, []string{"vendor", "outcome"}),
		SignLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oneweb_ai_sign_latency_ms",
			Help:    "Signed-URL latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"vendor"}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oneweb_ai_quota_rejections_total",
			Help: "Signed-URL requests refused because the daily token limit was reached",
		}),
		TokensRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oneweb_ai_tokens_recorded_total",
			Help: "Tokens reported by the editor",
		}),
		ProbeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oneweb_ai_probe_total",
			Help: "Admin vendor test calls by vendor and mode",
		}, []string{"vendor", "mode"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oneweb_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}, []string{"route"}),
	}
	reg.MustRegister(m.SignTotal, m.SignLatency, m.QuotaRejections, m.TokensRecorded, m.ProbeTotal, m.RateLimited)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
