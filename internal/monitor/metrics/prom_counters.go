// Package metrics holds the process-wide Prometheus collectors for the
// monitor. Label sets are small and fixed; node ids never become labels.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpdatesTotal counts accepted telemetry messages by variant.
	UpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_updates_total",
		Help: "Telemetry messages written to the store, by message type",
	}, []string{"type"})
	UpdateErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_update_errors_total",
		Help: "Telemetry writes that failed in the store",
	})
	IgnoredMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_ignored_messages_total",
		Help: "Telemetry messages acknowledged but not stored, by message type",
	}, []string{"type"})
	WriterRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_writer_restarts_total",
		Help: "Times the store writer was restarted after a crash",
	})
	// ScanPages counts cursor pages fetched; kind is "keys" or "members".
	ScanPages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_scan_pages_total",
		Help: "Cursor scan pages fetched from the store",
	}, []string{"kind"})
	RosterRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_roster_records_total",
		Help: "Node records emitted by roster reads, by output format",
	}, []string{"format"})
	ExpiredNodesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_expired_nodes_total",
		Help: "Nodes removed from the active set by lazy expiry",
	})
	ExpireErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_expire_errors_total",
		Help: "Failed best-effort removals from the active set",
	})
)

func init() {
	prometheus.MustRegister(
		UpdatesTotal, UpdateErrorsTotal, IgnoredMessagesTotal, WriterRestartsTotal,
		ScanPages, RosterRecordsTotal, ExpiredNodesTotal, ExpireErrorsTotal,
	)
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler { return promhttp.Handler() }
