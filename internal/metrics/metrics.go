package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/queue"
)

const (
	ItemsCollectorName       = "filemon_items"
	JobsRunningCollectorName = "filemon_jobs_running"
	JobsTotalCollectorName   = "filemon_jobs_total"

	gracefulShutdownTimeout = 5 * time.Second
)

// Collector turns queue events into prometheus metrics.
type Collector struct {
	items   *prometheus.GaugeVec
	running prometheus.Gauge
	jobs    *prometheus.CounterVec

	mu     sync.Mutex
	status map[string]item.Status
}

func NewCollector(reg prometheus.Registerer, monitor string) *Collector {
	labels := prometheus.Labels{"monitor": monitor}
	c := &Collector{
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        ItemsCollectorName,
			Help:        "Number of items in the queue partitioned by status.",
			ConstLabels: labels,
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        JobsRunningCollectorName,
			Help:        "Number of pipeline jobs currently running.",
			ConstLabels: labels,
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        JobsTotalCollectorName,
			Help:        "Number of finished pipeline jobs partitioned by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		status: make(map[string]item.Status),
	}
	reg.MustRegister(c.items, c.running, c.jobs)
	return c
}

// Observe is a queue.Observer.
func (c *Collector) Observe(ev queue.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running.Set(float64(ev.Running))

	id := ev.Row.ID
	prev, known := c.status[id]
	next := ev.Row.Status

	if ev.Type == queue.Removed && next != item.RemovedFromList {
		if known {
			c.items.WithLabelValues(prev.String()).Dec()
			delete(c.status, id)
		}
		return
	}

	if known && prev == next {
		return
	}
	if known {
		c.items.WithLabelValues(prev.String()).Dec()
	}
	c.items.WithLabelValues(next.String()).Inc()
	c.status[id] = next

	if prev == item.Running && next.Terminal() {
		c.jobs.WithLabelValues(next.String()).Inc()
	}
}

// Server serves /metrics for a gatherer.
type Server struct {
	bindAddress string
	httpServer  *http.Server
	logger      *zap.Logger
}

func NewServer(bindAddress string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		bindAddress: bindAddress,
		logger:      logger.Named("metrics_server"),
		httpServer: &http.Server{
			Addr:              bindAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bindAddress)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.httpServer.SetKeepAlivesEnabled(false)
		_ = s.httpServer.Shutdown(ctxTimeout)
		s.logger.Info("metrics server terminated")
	}()

	s.logger.Info("serving metrics", zap.String("address", s.bindAddress))
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
