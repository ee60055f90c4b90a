// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordReceiptsIngested(count int)
	RecordSyncCycle(failed int)
	RecordPageFetched(stream string)
	RecordPlatformError(kind string)
	RecordPollOutcome(result string)
	RecordNotificationSent(kind string)
	RecordNotificationFailed(kind string)
	RecordSyncLatency(duration time.Duration)
	SetLiveSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	receiptsIngested   prometheus.Counter
	syncCycles         prometheus.Counter
	syncFailures       prometheus.Counter
	pagesFetched       *prometheus.CounterVec
	platformErrors     *prometheus.CounterVec
	pollOutcomes       *prometheus.CounterVec
	notificationsSent  *prometheus.CounterVec
	notificationsFail  *prometheus.CounterVec
	syncLatency        prometheus.Histogram
	liveSessions       prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		receiptsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "receiptman_receipts_ingested_total",
			Help: "取り込まれた新規レシートの合計数",
		}),
		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "receiptman_sync_cycles_total",
			Help: "レシート同期サイクルの実行回数",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "receiptman_sync_failures_total",
			Help: "同期サイクル内で失敗したユーザーの合計数",
		}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptman_pages_fetched_total",
			Help: "ストリーム種別ごとのページ取得数",
		}, []string{"stream"}),
		platformErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptman_platform_errors_total",
			Help: "プラットフォームエラーの分類別合計数",
		}, []string{"kind"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptman_bind_poll_outcomes_total",
			Help: "承認ポーリングの結果別合計数",
		}, []string{"result"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptman_notifications_sent_total",
			Help: "送信に成功した通知の種別別合計数",
		}, []string{"kind"}),
		notificationsFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiptman_notifications_failed_total",
			Help: "送信に失敗した通知の種別別合計数",
		}, []string{"kind"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "receiptman_sync_latency_seconds",
			Help:    "同期サイクルのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receiptman_live_sessions",
			Help: "現在のWebSocket購読数",
		}),
	}

	reg.MustRegister(
		c.receiptsIngested,
		c.syncCycles,
		c.syncFailures,
		c.pagesFetched,
		c.platformErrors,
		c.pollOutcomes,
		c.notificationsSent,
		c.notificationsFail,
		c.syncLatency,
		c.liveSessions,
	)

	return c
}

// RecordReceiptsIngested は取り込まれたレシート数を記録する。
func (c *Collector) RecordReceiptsIngested(count int) {
	c.receiptsIngested.Add(float64(count))
}

// RecordSyncCycle は同期サイクルの完了と失敗ユーザー数を記録する。
func (c *Collector) RecordSyncCycle(failed int) {
	c.syncCycles.Inc()
	c.syncFailures.Add(float64(failed))
}

// RecordPageFetched はストリーム種別ごとのページ取得を記録する。
func (c *Collector) RecordPageFetched(stream string) {
	c.pagesFetched.WithLabelValues(stream).Inc()
}

// RecordPlatformError はプラットフォームエラーの分類を記録する。
func (c *Collector) RecordPlatformError(kind string) {
	c.platformErrors.WithLabelValues(kind).Inc()
}

// RecordPollOutcome は承認ポーリングの結果を記録する。
func (c *Collector) RecordPollOutcome(result string) {
	c.pollOutcomes.WithLabelValues(result).Inc()
}

// RecordNotificationSent は通知送信成功を記録する。
func (c *Collector) RecordNotificationSent(kind string) {
	c.notificationsSent.WithLabelValues(kind).Inc()
}

// RecordNotificationFailed は通知送信失敗を記録する。
func (c *Collector) RecordNotificationFailed(kind string) {
	c.notificationsFail.WithLabelValues(kind).Inc()
}

// RecordSyncLatency は同期サイクルのレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// SetLiveSessions は現在のWebSocket購読数を設定する。
func (c *Collector) SetLiveSessions(count int) {
	c.liveSessions.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
