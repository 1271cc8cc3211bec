// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginError              = "error"
)

// ログアウト範囲のラベル値
const (
	LogoutDevice = "device"
	LogoutAll    = "all"
	LogoutAdmin  = "admin"
)

// セッションバージョンガードの拒否理由のラベル値
const (
	RejectUnscoped   = "unscoped"
	RejectNotFound   = "session_not_found"
	RejectStale      = "stale_version"
	RejectStoreError = "store_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordTokenIssued()
	RecordLogout(scope string, sessions int64)
	RecordGuardRejection(reason string)
	RecordGuardLookup(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	tokensIssued    prometheus.Counter
	logouts         *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	guardRejections *prometheus.CounterVec
	guardLookup     prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authservice_tokens_issued_total",
			Help: "発行したアクセストークンの合計数",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_logout_total",
			Help: "範囲別のログアウト操作数",
		}, []string{"scope"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authservice_sessions_revoked_total",
			Help: "セッションバージョンをインクリメントしたデバイスセッションの合計数",
		}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_session_guard_rejections_total",
			Help: "セッションバージョンガードが拒否したリクエスト数",
		}, []string{"reason"}),
		guardLookup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authservice_session_guard_lookup_seconds",
			Help:    "ガードによるセッションバージョン参照のレイテンシ（秒）",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.tokensIssued,
		c.logouts,
		c.sessionsRevoked,
		c.guardRejections,
		c.guardLookup,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordLogout はログアウト操作と、バージョンを進めたセッション数を記録する。
func (c *Collector) RecordLogout(scope string, sessions int64) {
	c.logouts.WithLabelValues(scope).Inc()
	c.sessionsRevoked.Add(float64(sessions))
}

// RecordGuardRejection はガードによる拒否を記録する。
func (c *Collector) RecordGuardRejection(reason string) {
	c.guardRejections.WithLabelValues(reason).Inc()
}

// RecordGuardLookup はガードのストア参照時間を記録する。
func (c *Collector) RecordGuardLookup(duration time.Duration) {
	c.guardLookup.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)              {}
func (NopCollector) RecordTokenIssued()              {}
func (NopCollector) RecordLogout(string, int64)      {}
func (NopCollector) RecordGuardRejection(string)     {}
func (NopCollector) RecordGuardLookup(time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)            {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
