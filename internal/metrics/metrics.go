// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordRegistration(module string)
	RecordRegistrationFailure(code string)
	RecordLogin(result string)
	RecordOTPVerification(outcome string)
	RecordSerialRetry()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations    *prometheus.CounterVec
	registrationFail *prometheus.CounterVec
	logins           *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	serialRetries    prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_registrations_total",
			Help: "登録モジュール別の登録完了数",
		}, []string{"module"}),
		registrationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_registration_failures_total",
			Help: "エラーコード別の登録失敗数",
		}, []string{"code"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_otp_verifications_total",
			Help: "結果別のワンタイムパスコード検証数",
		}, []string{"outcome"}),
		serialRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accountd_serial_allocation_retries_total",
			Help: "シリアル番号採番の再試行数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.registrations,
		c.registrationFail,
		c.logins,
		c.otpVerifications,
		c.serialRetries,
		c.httpStatus,
	)

	return c
}

// RecordRegistration は登録完了を記録する。
func (c *Collector) RecordRegistration(module string) {
	c.registrations.WithLabelValues(module).Inc()
}

// RecordRegistrationFailure は登録失敗を記録する。
func (c *Collector) RecordRegistrationFailure(code string) {
	c.registrationFail.WithLabelValues(code).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordOTPVerification はワンタイムパスコードの検証結果を記録する。
func (c *Collector) RecordOTPVerification(outcome string) {
	c.otpVerifications.WithLabelValues(outcome).Inc()
}

// RecordSerialRetry はシリアル番号採番の再試行を記録する。
func (c *Collector) RecordSerialRetry() {
	c.serialRetries.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler は指定されたGathererのメトリクスを公開するHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
