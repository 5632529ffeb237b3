// Package metrics exports driver statistics to Prometheus.
//
//	stats := &sql.QueryStats{}
//	drv, err := sql.Open("postgres", dsn, sql.WithStats(stats))
//	...
//	prometheus.MustRegister(metrics.NewCollector("solar", drv))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/kaboom/dialect/sql"
)

// Collector is a prometheus.Collector over the statistics of a Driver.
// Statement counters are exported only when the driver records them;
// pool gauges only when it wraps a *sql.DB.
type Collector struct {
	drv *sql.Driver

	queries   *prometheus.Desc
	execs     *prometheus.Desc
	duration  *prometheus.Desc
	slow      *prometheus.Desc
	errors    *prometheus.Desc
	txs       *prometheus.Desc
	openConns *prometheus.Desc
	inUse     *prometheus.Desc
	idle      *prometheus.Desc
	waits     *prometheus.Desc
}

// NewCollector returns the collector of drv, with metric names prefixed
// by namespace.
func NewCollector(namespace string, drv *sql.Driver) *Collector {
	labels := prometheus.Labels{"dialect": drv.Dialect()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", name), help, variable, labels)
	}
	return &Collector{
		drv:       drv,
		queries:   desc("queries_total", "Total number of row-returning statements."),
		execs:     desc("execs_total", "Total number of statements run without rows."),
		duration:  desc("statement_duration_seconds_total", "Total time spent executing statements."),
		slow:      desc("slow_statements_total", "Total number of statements above the slow threshold."),
		errors:    desc("statement_errors_total", "Total number of failed statements."),
		txs:       desc("transactions_total", "Total number of finished transactions.", "outcome"),
		openConns: desc("open_connections", "Number of established connections."),
		inUse:     desc("in_use_connections", "Number of connections in use."),
		idle:      desc("idle_connections", "Number of idle connections."),
		waits:     desc("wait_count_total", "Total number of connections waited for."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.queries, c.execs, c.duration, c.slow, c.errors, c.txs,
		c.openConns, c.inUse, c.idle, c.waits,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if qs := c.drv.QueryStats(); qs != nil {
		s := qs.Stats()
		ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.TotalQueries))
		ch <- prometheus.MustNewConstMetric(c.execs, prometheus.CounterValue, float64(s.TotalExecs))
		ch <- prometheus.MustNewConstMetric(c.duration, prometheus.CounterValue, s.TotalDuration.Seconds())
		ch <- prometheus.MustNewConstMetric(c.slow, prometheus.CounterValue, float64(s.SlowQueries))
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
		ch <- prometheus.MustNewConstMetric(c.txs, prometheus.CounterValue, float64(s.Commits), "commit")
		ch <- prometheus.MustNewConstMetric(c.txs, prometheus.CounterValue, float64(s.Rollbacks), "rollback")
	}
	if db := c.drv.DB(); db != nil {
		s := db.Stats()
		ch <- prometheus.MustNewConstMetric(c.openConns, prometheus.GaugeValue, float64(s.OpenConnections))
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
		ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.WaitCount))
	}
}
