package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishgate_verdicts_total",
		Help: "Total number of analysed messages by verdict",
	}, []string{"verdict"})
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phishgate_pipeline_duration_seconds",
		Help:    "Time spent in the analysis pipeline",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	StageUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishgate_stage_unavailable_total",
		Help: "Total number of scoring or explanation calls that produced no usable result",
	}, []string{"stage"})
	FailOpen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishgate_fail_open_total",
		Help: "Total number of messages relayed unmodified after an internal failure",
	}, []string{"reason"})
	RelayFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishgate_relay_failures_total",
		Help: "Total number of messages the downstream relay did not accept",
	})
	Rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishgate_rejected_total",
		Help: "Total number of SMTP rejections by phase",
	}, []string{"phase"})
)

func init() {
	prometheus.MustRegister(Verdicts, PipelineDuration, StageUnavailable, FailOpen, RelayFailures, Rejected)
}

// Server exposes the default registry over HTTP
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server listening on addr
func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves metrics in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting metrics server", zap.String("address", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
