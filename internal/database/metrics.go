package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports pgxpool connection statistics as Prometheus metrics,
// labelled by logical database name (reviews, stats).
type PoolCollector struct {
	pool *pgxpool.Pool
	db   string

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
}

// NewPoolCollector creates a collector for the given pool.
func NewPoolCollector(pool *pgxpool.Pool, db string) *PoolCollector {
	labels := []string{"database"}
	return &PoolCollector{
		pool: pool,
		db:   db,
		acquired: prometheus.NewDesc(
			"db_pool_acquired_connections",
			"Number of currently acquired connections",
			labels, nil,
		),
		idle: prometheus.NewDesc(
			"db_pool_idle_connections",
			"Number of currently idle connections",
			labels, nil,
		),
		total: prometheus.NewDesc(
			"db_pool_total_connections",
			"Total number of connections in the pool",
			labels, nil,
		),
		max: prometheus.NewDesc(
			"db_pool_max_connections",
			"Maximum number of connections allowed",
			labels, nil,
		),
	}
}

// Describe sends the descriptors of all metrics to the channel.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
}

// Collect reads the current pool stats and emits them as metrics.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stats.AcquiredConns()), c.db)
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.IdleConns()), c.db)
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stats.TotalConns()), c.db)
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(stats.MaxConns()), c.db)
}
