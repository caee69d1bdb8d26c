package services

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "summit_api"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// Admission metrics
var (
	admissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Admission decisions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	admissionViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_violations_total",
			Help: "Recorded abuse violations by type",
		},
		[]string{"type"},
	)
)

// Upstream API metrics
var (
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Monitored outbound API calls by surface and status",
		},
		[]string{"surface", "status"},
	)

	upstreamRequestDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_ms",
			Help:    "Outbound API call duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"surface"},
	)

	upstreamBudgetRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_budget_remaining",
			Help: "Remaining upstream rate-limit budget by surface",
		},
		[]string{"surface"},
	)

	monitoringAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_total",
			Help: "Monitoring alerts raised by surface and severity",
		},
		[]string{"surface", "severity"},
	)
)

// System metrics
var (
	heapAllocBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heap_alloc_bytes",
			Help: "Heap memory allocated in bytes",
		},
	)

	heapSysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heap_sys_bytes",
			Help: "Heap memory obtained from system in bytes",
		},
	)

	gcTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gc_total",
			Help: "Total number of garbage collections",
		},
	)
)

type MonitoringService struct {
	appContext.DefaultService

	port     int
	register *prometheus.Registry

	closed      chan struct{}
	server      *fiber.App
	lastGCCount uint32
}

func (svc *MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Start() error {
	svc.closed = make(chan struct{}, 1)

	portStr := os.Getenv("PROMETHEUS_PORT")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = DEFAULT_PROMETHEUS_PORT
	}
	svc.port = port

	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg.MustRegister(
		admissionDecisionsTotal,
		admissionViolationsTotal,
		upstreamRequestsTotal,
		upstreamRequestDurationMs,
		upstreamBudgetRemaining,
		monitoringAlertsTotal,
		heapAllocBytes,
		heapSysBytes,
		gcTotal,
	)

	svc.register = reg

	go svc.updateMemoryMetrics()

	config := fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		},
	}

	svc.server = fiber.New(config)
	svc.server.Use(recover.New())

	svc.server.Get("/metrics", svc.metricsHandler)
	svc.server.Get("/health", svc.healthHandler)

	go func() {
		log.Info().Int("port", svc.port).Msg("Prometheus metrics server started")
		if err := svc.server.Listen(fmt.Sprintf(":%v", svc.port)); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics server stopped")
		}
	}()

	return nil
}

func (svc *MonitoringService) Shutdown() {
	svc.closed <- struct{}{}
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *MonitoringService) metricsHandler(c *fiber.Ctx) error {
	handler := promhttp.HandlerFor(svc.register, promhttp.HandlerOpts{})
	return adaptor.HTTPHandler(handler)(c)
}

func (svc *MonitoringService) healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"service":   SERVICE_NAME,
		"timestamp": time.Now().Unix(),
	})
}

// updateMemoryMetrics updates memory-related metrics every 15 seconds
func (svc *MonitoringService) updateMemoryMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			heapAllocBytes.Set(float64(m.Alloc))
			heapSysBytes.Set(float64(m.Sys))

			if m.NumGC > svc.lastGCCount {
				gcTotal.Add(float64(m.NumGC - svc.lastGCCount))
				svc.lastGCCount = m.NumGC
			}

		case <-svc.closed:
			return
		}
	}
}

// RecordAdmission counts one admission decision.
func (svc *MonitoringService) RecordAdmission(operation, outcome string) {
	admissionDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordViolation counts one abuse violation.
func (svc *MonitoringService) RecordViolation(violationType string) {
	admissionViolationsTotal.WithLabelValues(violationType).Inc()
}

// RecordUpstreamCall counts one monitored outbound call.
func (svc *MonitoringService) RecordUpstreamCall(surface, status string, durationMs float64) {
	upstreamRequestsTotal.WithLabelValues(surface, status).Inc()
	if status != "cache" {
		upstreamRequestDurationMs.WithLabelValues(surface).Observe(durationMs)
	}
}

// SetUpstreamBudget exposes the last observed upstream budget.
func (svc *MonitoringService) SetUpstreamBudget(surface string, remaining int) {
	upstreamBudgetRemaining.WithLabelValues(surface).Set(float64(remaining))
}

// RecordAlert counts one raised monitoring alert.
func (svc *MonitoringService) RecordAlert(surface, severity string) {
	monitoringAlertsTotal.WithLabelValues(surface, severity).Inc()
}
