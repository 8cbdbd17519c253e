package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verifications        *prometheus.CounterVec
	VerificationLatency  *prometheus.HistogramVec
	JudgeCalls           *prometheus.CounterVec
	FraudRecommendations *prometheus.CounterVec
	FraudRiskScore       prometheus.Histogram
	WinnersSelected      prometheus.Counter
	KafkaMessages        *prometheus.CounterVec
	RedisOperations      *prometheus.CounterVec
	AuthFailures         *prometheus.CounterVec
	RateLimited          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_verifications_total",
			Help: "Total number of submission verifications by challenge type and outcome",
		}, []string{"challenge_type", "outcome"}),
		VerificationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_verification_duration_seconds",
			Help:    "Verification latency in seconds, judge call included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"challenge_type"}),
		JudgeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_remote_calls_total",
			Help: "Total number of calls to the remote judge",
		}, []string{"status"}),
		FraudRecommendations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_fraud_assessments_total",
			Help: "Total number of fraud assessments by recommendation",
		}, []string{"recommendation"}),
		FraudRiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "judge_fraud_risk_score",
			Help:    "Distribution of fraud risk scores",
			Buckets: []float64{0, 25, 50, 75, 100},
		}),
		WinnersSelected: factory.NewCounter(prometheus.CounterOpts{
			Name: "judge_winners_selected_total",
			Help: "Total number of winner records produced",
		}),
		KafkaMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of Kafka messages processed",
		}, []string{"topic", "status"}),
		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		}, []string{"operation", "status"}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_auth_failures_total",
			Help: "Total number of authentication failures by reason",
		}, []string{"reason"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total number of requests rejected by a rate limiter",
		}, []string{"limiter"}),
	}
}

func (m *Metrics) ObserveVerification(challengeType, outcome string, seconds float64) {
	m.Verifications.WithLabelValues(challengeType, outcome).Inc()
	if outcome == "ok" {
		m.VerificationLatency.WithLabelValues(challengeType).Observe(seconds)
	}
}

func (m *Metrics) IncJudgeCall(status string) {
	m.JudgeCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveFraud(recommendation string, riskScore int) {
	m.FraudRecommendations.WithLabelValues(recommendation).Inc()
	m.FraudRiskScore.Observe(float64(riskScore))
}

func (m *Metrics) AddWinners(n int) {
	m.WinnersSelected.Add(float64(n))
}

func (m *Metrics) IncKafkaMessage(topic, status string) {
	m.KafkaMessages.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) IncRedisOperation(operation, status string) {
	m.RedisOperations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncAuthFailures(reason string) {
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRateLimited(limiter string) {
	m.RateLimited.WithLabelValues(limiter).Inc()
}
