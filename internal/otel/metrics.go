package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all agentcore metric instruments.
type Metrics struct {
	TaskDuration   metric.Float64Histogram
	TaskFailures   metric.Int64Counter
	LockRetries    metric.Int64Counter
	LockStaleTakes metric.Int64Counter
	EpisodesStored metric.Int64Counter
	RecallDuration metric.Float64Histogram
	ActiveWorkers  metric.Int64UpDownCounter
	PoolSaturated  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("agentcore.task.duration",
		metric.WithDescription("Scheduled task run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskFailures, err = meter.Int64Counter("agentcore.task.failures",
		metric.WithDescription("Scheduled task runs that ended in failure"),
	)
	if err != nil {
		return nil, err
	}

	m.LockRetries, err = meter.Int64Counter("agentcore.lock.retries",
		metric.WithDescription("Tenant lock acquisition retries"),
	)
	if err != nil {
		return nil, err
	}

	m.LockStaleTakes, err = meter.Int64Counter("agentcore.lock.stale_reclaims",
		metric.WithDescription("Stale tenant locks reclaimed from crashed holders"),
	)
	if err != nil {
		return nil, err
	}

	m.EpisodesStored, err = meter.Int64Counter("agentcore.episodes.stored",
		metric.WithDescription("Episodes appended to tenant episodic logs"),
	)
	if err != nil {
		return nil, err
	}

	m.RecallDuration, err = meter.Float64Histogram("agentcore.recall.duration",
		metric.WithDescription("Episodic recall duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveWorkers, err = meter.Int64UpDownCounter("agentcore.pool.active",
		metric.WithDescription("Workers currently executing a task"),
	)
	if err != nil {
		return nil, err
	}

	m.PoolSaturated, err = meter.Int64Counter("agentcore.pool.saturated",
		metric.WithDescription("Worker requests rejected because the pool was full"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
