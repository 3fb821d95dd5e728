package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "penne_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "penne_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "penne_paste_deleted_total",
		Help: "no. of pastes deleted by their owner",
	})
	PasteExpiredReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "penne_paste_expired_reads_total",
		Help: "no. of reads that hit an expired paste",
	})
	CipherOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penne_cipher_operations_total",
			Help: "no. of field encrypt/decrypt operations",
		},
		[]string{"operation"},
	)
	SessionRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "penne_session_refreshes_total",
		Help: "no. of identity token refreshes",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "penne_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

func Init() {
}
