// Package telemetry exposes the core's global counters (§6 "Stats accessors")
// as VictoriaMetrics gauges/counters/histograms so they can be scraped the
// same way R2Northstar-Atlas exposes its master-server metrics.
package telemetry

import "github.com/VictoriaMetrics/metrics"

var (
	PingsReceived    = metrics.NewCounter("corenet_pings_received_total")
	PacketsSent      = metrics.NewCounter("corenet_packets_sent_total")
	PacketsReceived  = metrics.NewCounter("corenet_packets_received_total")
	BytesSent        = metrics.NewCounter("corenet_bytes_sent_total")
	BytesReceived    = metrics.NewCounter("corenet_bytes_received_total")
	BuffersUsed      = metrics.NewCounter("corenet_buffers_used_total")
	RelDups          = metrics.NewCounter("corenet_reliable_dups_total")
	AckDups          = metrics.NewCounter("corenet_ack_dups_total")
	Retries          = metrics.NewCounter("corenet_retries_total")
	Drops            = metrics.NewCounter("corenet_drops_total")
	Lagouts          = metrics.NewCounter("corenet_lagouts_total")
	ConnectionsLive  = metrics.NewCounter("corenet_connections_live")

	// GroupedHistogram buckets the number of inner packets carried by a
	// single 0x0E grouped frame; ReliableGroupedHistogram the same for
	// combined-reliable frames built in Send Pipeline §4.6 step 1.
	GroupedHistogram         = metrics.NewHistogram("corenet_grouped_packet_count")
	ReliableGroupedHistogram = metrics.NewHistogram("corenet_reliable_grouped_packet_count")

	BytesByPriority = [5]*metrics.Counter{
		metrics.NewCounter(`corenet_bytes_by_priority_total{priority="ack"}`),
		metrics.NewCounter(`corenet_bytes_by_priority_total{priority="unreliable_high"}`),
		metrics.NewCounter(`corenet_bytes_by_priority_total{priority="unreliable"}`),
		metrics.NewCounter(`corenet_bytes_by_priority_total{priority="unreliable_low"}`),
		metrics.NewCounter(`corenet_bytes_by_priority_total{priority="reliable"}`),
	}
)
