// Package metrics exposes scheduler and workflow activity as Prometheus
// collectors fed from the event bus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"examflow/internal/events"
	"examflow/internal/logging"
)

const namespace = "examflow"

// Collector translates bus events into Prometheus series.
type Collector struct {
	registry *prometheus.Registry

	tasksCreated  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskRetries   *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueTasks    *prometheus.GaugeVec
	errorRate     prometheus.Gauge
	throughput    prometheus.Gauge
	stageChanges  *prometheus.CounterVec
}

// New builds a collector with its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "tasks_created_total", Help: "Tasks submitted to the scheduler."},
			[]string{"type"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "tasks_finished_total", Help: "Tasks that reached a terminal status."},
			[]string{"type", "status"},
		),
		taskRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "task_retries_total", Help: "Failed attempts scheduled for retry."},
			[]string{"type"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "task_duration_seconds", Help: "Duration of successful tasks.", Buckets: prometheus.DefBuckets},
			[]string{"type"},
		),
		queueTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "queue_tasks", Help: "Tasks currently held by the scheduler by state."},
			[]string{"state"},
		),
		errorRate: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "queue_error_rate", Help: "Failed tasks divided by total tasks."},
		),
		throughput: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "queue_throughput_per_minute", Help: "Tasks completed during the last minute."},
		),
		stageChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "stage_transitions_total", Help: "Workflow stage status changes."},
			[]string{"stage", "status"},
		),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.tasksCreated,
		c.tasksFinished,
		c.taskRetries,
		c.taskDuration,
		c.queueTasks,
		c.errorRate,
		c.throughput,
		c.stageChanges,
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Attach subscribes the collector to bus and returns the unsubscribe func.
func (c *Collector) Attach(bus *events.Bus) func() {
	return bus.Subscribe(c.Handle)
}

// Handle records a single event.
func (c *Collector) Handle(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskCreated:
		c.tasksCreated.WithLabelValues(string(e.Task.Type)).Inc()
	case events.TaskCompleted:
		c.tasksFinished.WithLabelValues(string(e.Type), "completed").Inc()
		c.taskDuration.WithLabelValues(string(e.Type)).Observe(e.Duration.Seconds())
	case events.TaskFailed:
		c.tasksFinished.WithLabelValues(string(e.Type), "failed").Inc()
	case events.TaskCancelled:
		c.tasksFinished.WithLabelValues(string(e.Type), "cancelled").Inc()
	case events.TaskRetrying:
		c.taskRetries.WithLabelValues(string(e.Type)).Inc()
	case events.QueueUpdated:
		s := e.Stats
		c.queueTasks.WithLabelValues("pending").Set(float64(s.Pending))
		c.queueTasks.WithLabelValues("running").Set(float64(s.Running))
		c.queueTasks.WithLabelValues("paused").Set(float64(s.Paused))
		c.queueTasks.WithLabelValues("queued").Set(float64(s.QueueLength))
		c.errorRate.Set(s.ErrorRate)
		c.throughput.Set(s.ThroughputPerMinute)
	case events.StageChanged:
		c.stageChanges.WithLabelValues(e.Stage, e.Status).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Server exposes /metrics on a TCP address.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr and prepares a server for c. Use "127.0.0.1:0" for an
// ephemeral port.
func Listen(addr string, c *Collector, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logging.NewComponentLogger(logger, "metrics"),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()
	s.logger.Info("metrics endpoint listening", logging.String("addr", s.Addr()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics shutdown failed", logging.Error(err))
		}
		return nil
	}
}
