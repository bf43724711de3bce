// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// キャッシュ層・トークン管理・レコメンドエンジンから利用する。
type MetricsCollector interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordPrefFlush()
	RecordTokenRefresh(result string)
	RecordSearchRetry()
	RecordFallback()
	RecordCatalogLatency(duration time.Duration)
	RecordRecommendation()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHit        prometheus.Counter
	cacheMiss       prometheus.Counter
	prefFlush       prometheus.Counter
	tokenRefresh    *prometheus.CounterVec
	searchRetry     prometheus.Counter
	fallback        prometheus.Counter
	catalogLatency  prometheus.Histogram
	recommendations prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepick_cache_hit_total",
			Help: "高速キャッシュ層ヒットの合計数",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepick_cache_miss_total",
			Help: "高速キャッシュ層ミスの合計数",
		}),
		prefFlush: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepick_pref_flush_total",
			Help: "嗜好ドキュメントの永続ストアへのフラッシュ回数",
		}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunepick_token_refresh_total",
			Help: "アクセストークンのリフレッシュ試行数（結果別）",
		}, []string{"result"}),
		searchRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepick_search_retry_total",
			Help: "検索条件を緩和したリトライの合計数",
		}),
		fallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepick_fallback_total",
			Help: "静的フォールバックトラックを返した回数",
		}),
		catalogLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunepick_catalog_latency_seconds",
			Help:    "音楽カタログAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		recommendations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunepick_recommendations_total",
			Help: "レコメンド生成の合計数",
		}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.cacheMiss,
		c.prefFlush,
		c.tokenRefresh,
		c.searchRetry,
		c.fallback,
		c.catalogLatency,
		c.recommendations,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHit.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMiss.Inc()
}

// RecordPrefFlush は嗜好ドキュメントのフラッシュを記録する。
func (c *Collector) RecordPrefFlush() {
	c.prefFlush.Inc()
}

// RecordTokenRefresh はトークンリフレッシュの試行を結果付きで記録する。
// resultは "success" または "failure"。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordSearchRetry は条件緩和リトライを記録する。
func (c *Collector) RecordSearchRetry() {
	c.searchRetry.Inc()
}

// RecordFallback は静的フォールバックの発動を記録する。
func (c *Collector) RecordFallback() {
	c.fallback.Inc()
}

// RecordCatalogLatency はカタログAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordCatalogLatency(duration time.Duration) {
	c.catalogLatency.Observe(duration.Seconds())
}

// RecordRecommendation はレコメンド生成を記録する。
func (c *Collector) RecordRecommendation() {
	c.recommendations.Inc()
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
