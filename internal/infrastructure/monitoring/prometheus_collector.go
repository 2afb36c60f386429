package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports the supervisor and relay metrics.
type Collector struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	spawnFailures  prometheus.Counter
	forcedKills    prometheus.Counter

	controlMessages *prometheus.CounterVec
	framesBroadcast *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
}

func NewCollector() *Collector {
	return &Collector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mirrorctl_sessions_active",
			Help: "Number of currently running mirror sessions",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mirrorctl_sessions_started_total",
			Help: "Total number of mirror sessions started",
		}),

		spawnFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mirrorctl_spawn_failures_total",
			Help: "Total number of mirror process spawn failures",
		}),

		forcedKills: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mirrorctl_forced_kills_total",
			Help: "Total number of processes killed after the stop grace period",
		}),

		controlMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorctl_control_messages_total",
			Help: "Total control messages forwarded to device processes",
		}, []string{"kind"}),

		framesBroadcast: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorctl_frames_broadcast_total",
			Help: "Total frame deliveries to websocket subscribers",
		}, []string{"kind"}),

		subscribers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirrorctl_subscribers",
			Help: "Number of websocket subscribers per device",
		}, []string{"device_id"}),
	}
}

func (c *Collector) SessionStarted() {
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded() {
	c.sessionsActive.Dec()
}

func (c *Collector) SpawnFailure() {
	c.spawnFailures.Inc()
}

func (c *Collector) ForcedKill() {
	c.forcedKills.Inc()
}

func (c *Collector) ControlMessages(kind string, n int) {
	c.controlMessages.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) FramesBroadcast(kind string, n int) {
	c.framesBroadcast.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) SetSubscribers(deviceID string, n int) {
	if n == 0 {
		c.subscribers.DeleteLabelValues(deviceID)
		return
	}
	c.subscribers.WithLabelValues(deviceID).Set(float64(n))
}
