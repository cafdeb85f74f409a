package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BusConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "espc3d_bus_connected",
		Help: "1 while the MQTT connection is up",
	})
	MessagesRecv = promauto.NewCounter(prometheus.CounterOpts{
		Name: "espc3d_messages_received_total",
		Help: "Attribute frames received from the bus",
	})
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "espc3d_messages_dropped_total",
		Help: "Attribute frames dropped because the ingest queue was full",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "espc3d_decode_errors_total",
		Help: "Attribute frames that could not be decoded",
	})
	TrackersKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "espc3d_trackers",
		Help: "Distinct trackers in the registry",
	})
	MirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "espc3d_mirror_errors_total",
		Help: "Failed writes to the Redis last-known mirror",
	})
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "espc3d_streams_active",
		Help: "Open server-sent event streams",
	})
	SnapshotsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "espc3d_snapshots_sent_total",
		Help: "Snapshots written to viewer streams",
	})
	StreamWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "espc3d_stream_write_errors_total",
		Help: "Streams closed because a write failed",
	})
	IngestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "espc3d_ingest_latency_seconds",
		Help:    "Time from dequeue to registry upsert",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveIngestLatency(start time.Time) {
	IngestLatency.Observe(time.Since(start).Seconds())
}

// MetricsHandler serves /metrics and /healthz.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartMetricsServer serves MetricsHandler on port until ctx ends.
func StartMetricsServer(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
