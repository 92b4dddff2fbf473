package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheStats provides the collector access to audio tier sizes.
type CacheStats interface {
	TierUsage() (tempBytes, savedBytes int64, tempFiles, savedFiles int)
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	cache CacheStats

	tierBytes       *prometheus.Desc
	tierFiles       *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). cache may be nil.
func NewCollector(pool *pgxpool.Pool, cache CacheStats) *Collector {
	return &Collector{
		pool:  pool,
		cache: cache,
		tierBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "tier_bytes"),
			"Bytes stored per audio tier.",
			[]string{"tier"}, nil,
		),
		tierFiles: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "tier_files"),
			"Files stored per audio tier.",
			[]string{"tier"}, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tierBytes
	ch <- c.tierFiles
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var tempBytes, savedBytes int64
	var tempFiles, savedFiles int
	if c.cache != nil {
		tempBytes, savedBytes, tempFiles, savedFiles = c.cache.TierUsage()
	}
	ch <- prometheus.MustNewConstMetric(c.tierBytes, prometheus.GaugeValue, float64(tempBytes), "temporary")
	ch <- prometheus.MustNewConstMetric(c.tierBytes, prometheus.GaugeValue, float64(savedBytes), "persisted")
	ch <- prometheus.MustNewConstMetric(c.tierFiles, prometheus.GaugeValue, float64(tempFiles), "temporary")
	ch <- prometheus.MustNewConstMetric(c.tierFiles, prometheus.GaugeValue, float64(savedFiles), "persisted")

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
	}
}
