package ports

// MetricsSink receives supervisor lifecycle events for observability.
type MetricsSink interface {
	SessionStarted()
	SessionEnded()
	SpawnFailure()
	ForcedKill()
}
