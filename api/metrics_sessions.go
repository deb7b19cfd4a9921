package api

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type sessionsMetricsCollector struct {
	db  *sql.DB
	ttl time.Duration

	activeDesc *prometheus.Desc
	lockedDesc *prometheus.Desc
}

func newSessionsMetricsCollector(db *sql.DB, ttl time.Duration) prometheus.Collector {
	return &sessionsMetricsCollector{
		db:  db,
		ttl: ttl,
		activeDesc: prometheus.NewDesc(
			"cms_active_sessions",
			"Admin sessions active within the idle timeout.",
			nil,
			nil,
		),
		lockedDesc: prometheus.NewDesc(
			"cms_locked_identifiers",
			"Login identifiers currently locked out (sql limiter backend).",
			nil,
			nil,
		),
	}
}

func (c *sessionsMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeDesc
	ch <- c.lockedDesc
}

func (c *sessionsMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	now := time.Now().UTC()

	var active float64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE last_activity >= ?`, now.Add(-c.ttl).Unix()).Scan(&active); err == nil {
		ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, active)
	}
	var locked float64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM login_attempts WHERE locked_until > ?`, now.Unix()).Scan(&locked); err == nil {
		ch <- prometheus.MustNewConstMetric(c.lockedDesc, prometheus.GaugeValue, locked)
	}
}
