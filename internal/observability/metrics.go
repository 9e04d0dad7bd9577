package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_tcp_connections_total",
		Help: "Total TCP connections accepted",
	})
	PacketsRecv = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_packets_received_total",
		Help: "Total Retranslator frames received",
	})
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_acks_total",
		Help: "Total ack bytes written back to devices",
	})
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_parse_errors_total",
		Help: "Frames that failed to decode",
	})
	UnknownDevices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_unknown_device_total",
		Help: "Frames dropped because the device id did not resolve",
	})
	Positions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codec_positions_total",
		Help: "Decoded positions by validity",
	}, []string{"valid"})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codec_sink_errors_total",
		Help: "Errors delivering positions to a sink",
	}, []string{"sink"})
	RedisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_redis_errors_total",
		Help: "Errors reading or writing Redis",
	})
	ParseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codec_parse_latency_seconds",
		Help:    "Decode latency per frame",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveParseLatency(start time.Time) {
	ParseLatency.Observe(time.Since(start).Seconds())
}

// AckCounter counts bytes written through it as acks.
type AckCounter struct {
	W io.Writer
}

func (a AckCounter) Write(p []byte) (int, error) {
	n, err := a.W.Write(p)
	if n > 0 {
		AcksSent.Add(float64(n))
	}
	return n, err
}

func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartMetricsServer serves /metrics and /healthz until ctx is done.
func StartMetricsServer(ctx context.Context, port string) error {
	srv := &http.Server{Addr: ":" + port, Handler: MetricsHandler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
