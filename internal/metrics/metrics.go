// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 課金処理、メール送信ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordWebhookEvent(eventType, outcome string)
	RecordWebhookRejected(reason string)
	RecordBillingSession(kind, outcome string)
	RecordProcessorLatency(duration time.Duration)
	RecordEmailSent(kind string)
	RecordEmailFailed(kind string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookEvents    *prometheus.CounterVec
	webhookRejected  *prometheus.CounterVec
	billingSessions  *prometheus.CounterVec
	processorLatency prometheus.Histogram
	emailsSent       *prometheus.CounterVec
	emailsFailed     *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saaskit_webhook_events_total",
			Help: "処理したWebhookイベント数（イベント種別・結果別）",
		}, []string{"type", "outcome"}),
		webhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saaskit_webhook_rejected_total",
			Help: "拒否したWebhookリクエスト数（理由別）",
		}, []string{"reason"}),
		billingSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saaskit_billing_sessions_total",
			Help: "決済事業者のセッション作成数（checkout/portal・結果別）",
		}, []string{"kind", "outcome"}),
		processorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "saaskit_processor_latency_seconds",
			Help:    "決済事業者APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		emailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saaskit_emails_sent_total",
			Help: "送信したメール数（種別別）",
		}, []string{"kind"}),
		emailsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saaskit_emails_failed_total",
			Help: "送信に失敗したメール数（種別別）",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saaskit_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.webhookRejected,
		c.billingSessions,
		c.processorLatency,
		c.emailsSent,
		c.emailsFailed,
		c.httpStatus,
	)

	return c
}

// RecordWebhookEvent は署名検証を通過したWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordWebhookRejected は拒否したWebhookリクエストを記録する。
func (c *Collector) RecordWebhookRejected(reason string) {
	c.webhookRejected.WithLabelValues(reason).Inc()
}

// RecordBillingSession はcheckout/portalセッション作成の結果を記録する。
func (c *Collector) RecordBillingSession(kind, outcome string) {
	c.billingSessions.WithLabelValues(kind, outcome).Inc()
}

// RecordProcessorLatency は決済事業者APIのレイテンシを記録する。
func (c *Collector) RecordProcessorLatency(duration time.Duration) {
	c.processorLatency.Observe(duration.Seconds())
}

// RecordEmailSent はメール送信成功を記録する。
func (c *Collector) RecordEmailSent(kind string) {
	c.emailsSent.WithLabelValues(kind).Inc()
}

// RecordEmailFailed はメール送信失敗を記録する。
func (c *Collector) RecordEmailFailed(kind string) {
	c.emailsFailed.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
