package jobs

import "context"

// StatsSource reports pool statistics. *postgres.Connection satisfies it.
type StatsSource interface {
	Stats() map[string]interface{}
}

// StatsSink records pool statistics. *metrics.Metrics satisfies it.
type StatsSink interface {
	RecordDBPoolStats(stats map[string]interface{})
}

// PoolStatsJob copies connection pool statistics into gauges.
type PoolStatsJob struct {
	source StatsSource
	sink   StatsSink
}

// NewPoolStatsJob creates the job.
func NewPoolStatsJob(source StatsSource, sink StatsSink) *PoolStatsJob {
	return &PoolStatsJob{source: source, sink: sink}
}

// Name implements scheduler.Job.
func (j *PoolStatsJob) Name() string { return "db_pool_stats" }

// Run implements scheduler.Job.
func (j *PoolStatsJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.sink.RecordDBPoolStats(j.source.Stats())
	return nil
}
