package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Registry's counters to a Prometheus scrape. It is
// optional; the registry works standalone.
type Collector struct {
	registry *Registry

	sentDesc           *prometheus.Desc
	receivedDesc       *prometheus.Desc
	processedDesc      *prometheus.Desc
	failedDesc         *prometheus.Desc
	expiredDesc        *prometheus.Desc
	droppedDesc        *prometheus.Desc
	retriedDesc        *prometheus.Desc
	fallbackUsagesDesc *prometheus.Desc
	byTypeDesc         *prometheus.Desc
	bySenderDesc       *prometheus.Desc
}

// NewCollector wraps the registry as a prometheus.Collector.
func NewCollector(registry *Registry) *Collector {
	return &Collector{
		registry: registry,
		sentDesc: prometheus.NewDesc(
			"agentmq_messages_sent_total", "Messages accepted by the queue manager.", nil, nil),
		receivedDesc: prometheus.NewDesc(
			"agentmq_messages_received_total", "Messages delivered to consumers.", nil, nil),
		processedDesc: prometheus.NewDesc(
			"agentmq_messages_processed_total", "Messages acknowledged by consumers.", nil, nil),
		failedDesc: prometheus.NewDesc(
			"agentmq_messages_failed_total", "Messages that exhausted their retries.", nil, nil),
		expiredDesc: prometheus.NewDesc(
			"agentmq_messages_expired_total", "Messages discarded past their deadline.", nil, nil),
		droppedDesc: prometheus.NewDesc(
			"agentmq_messages_dropped_total", "Messages discarded as unreadable.", nil, nil),
		retriedDesc: prometheus.NewDesc(
			"agentmq_messages_retried_total", "Messages re-enqueued after a failed attempt.", nil, nil),
		fallbackUsagesDesc: prometheus.NewDesc(
			"agentmq_fallback_usages_total", "Operations served by the in-process fallback.", nil, nil),
		byTypeDesc: prometheus.NewDesc(
			"agentmq_messages_by_type_total", "Messages sent, by message type.", []string{"type"}, nil),
		bySenderDesc: prometheus.NewDesc(
			"agentmq_messages_by_sender_total", "Messages sent, by sending agent.", []string{"sender"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentDesc
	ch <- c.receivedDesc
	ch <- c.processedDesc
	ch <- c.failedDesc
	ch <- c.expiredDesc
	ch <- c.droppedDesc
	ch <- c.retriedDesc
	ch <- c.fallbackUsagesDesc
	ch <- c.byTypeDesc
	ch <- c.bySenderDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue, float64(snap.Sent))
	ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.CounterValue, float64(snap.Received))
	ch <- prometheus.MustNewConstMetric(c.processedDesc, prometheus.CounterValue, float64(snap.Processed))
	ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue, float64(snap.Failed))
	ch <- prometheus.MustNewConstMetric(c.expiredDesc, prometheus.CounterValue, float64(snap.Expired))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(snap.Dropped))
	ch <- prometheus.MustNewConstMetric(c.retriedDesc, prometheus.CounterValue, float64(snap.Retried))
	ch <- prometheus.MustNewConstMetric(c.fallbackUsagesDesc, prometheus.CounterValue, float64(snap.FallbackUsages))
	for typ, n := range snap.ByType {
		ch <- prometheus.MustNewConstMetric(c.byTypeDesc, prometheus.CounterValue, float64(n), typ)
	}
	for sender, n := range snap.BySender {
		ch <- prometheus.MustNewConstMetric(c.bySenderDesc, prometheus.CounterValue, float64(n), sender)
	}
}
