// Package metrics define los collectors Prometheus del gateway.
//
// Viven en un paquete aparte para evitar ciclos de import entre los paquetes de
// dominio (secretbox, trust, consent, sca, audit) y la capa HTTP.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Requests en vuelo por método y ruta",
	}, []string{"method", "path"})

	// Dominio
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Decisiones del consent gate por tipo de recurso y resultado",
	}, []string{"resource_type", "decision", "reason"})

	TrustResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_resolutions_total",
		Help: "Resoluciones de TPP por credencial y resultado",
	}, []string{"credential", "result"}) // result: ok|unknown|blocked|invalid_cert|error

	SCAChallenges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sca_challenges_total",
		Help: "Challenges SCA emitidos y validados",
	}, []string{"op", "result"}) // op: initiate|validate

	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Escrituras de auditoría fallidas (nunca propagadas al request)",
	})

	AuditWritesInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_writes_inflight",
		Help: "Escrituras de auditoría en curso",
	})

	CodecDecryptFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codec_decrypt_failures_total",
		Help: "Fallas de descifrado por propósito y política",
	}, []string{"purpose", "policy"})

	AnomalyBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anomaly_blocks_total",
		Help: "Requests bloqueadas por el limitador por IP, por familia de dirección",
	}, []string{"family"})

	DownstreamCalls = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "downstream_call_duration_seconds",
		Help:    "Latencia de llamadas a servicios bancarios downstream",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal, HTTPRequestDuration, HTTPInflight,
		GateDecisions, TrustResolutions, SCAChallenges,
		AuditWriteFailures, AuditWritesInflight, CodecDecryptFailures,
		AnomalyBlocks, DownstreamCalls,
	}
}

// Register registra todas las métricas en el registry indicado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	for _, c := range all() {
		if err := registerCollector(reg, c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterPool registra un collector con el estado del pool de Postgres.
func RegisterPool(reg prometheus.Registerer, pool func() *pgxpool.Pool) error {
	if pool == nil {
		return nil
	}
	return registerCollector(reg, newDBPoolCollector(pool))
}

// registerCollector registra el collector ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// dbPoolCollector expone gauges del pool global.
type dbPoolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newDBPoolCollector(pool func() *pgxpool.Pool) *dbPoolCollector {
	return &dbPoolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	p := c.pool()
	if p == nil {
		return
	}
	stat := p.Stat()
	if stat == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}
