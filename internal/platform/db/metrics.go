package db

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// StatSource is satisfied by *pgxpool.Pool.
type StatSource interface {
	Stat() *pgxpool.Stat
}

// RegisterPoolMetrics exposes connection pool gauges, sampled at scrape time.
func RegisterPoolMetrics(reg prometheus.Registerer, pool StatSource) error {
	gauge := func(name, help string, value func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "medapp",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(pool.Stat()) })
	}

	for _, c := range []prometheus.Collector{
		gauge("total_conns", "Connections currently open.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("idle_conns", "Idle connections.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("acquired_conns", "Connections checked out.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("max_conns", "Configured pool size.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
