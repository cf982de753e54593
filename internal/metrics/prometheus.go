package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relaychat"

type counterDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Collector) int64
}

// Exporter adapts a Collector to the Prometheus client.  Values are
// read from the Collector at scrape time, so there is no second set of
// counters to keep in sync.
type Exporter struct {
	c      *Collector
	descs  []counterDesc
	uptime *prometheus.Desc
}

// NewExporter wraps c for registration with a prometheus.Registerer.
func NewExporter(c *Collector) *Exporter {
	def := func(name, help string, kind prometheus.ValueType, value func(*Collector) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			kind:  kind,
			value: value,
		}
	}
	return &Exporter{
		c: c,
		descs: []counterDesc{
			def("sessions_active", "Sessions currently registered.", prometheus.GaugeValue, (*Collector).ActiveSessions),
			def("sessions_total", "Sessions admitted since start.", prometheus.CounterValue, (*Collector).TotalSessions),
			def("migrations_total", "Sessions moved onto a reconnecting socket.", prometheus.CounterValue, (*Collector).Migrations),
			def("rejections_total", "Connections rejected as already connected.", prometheus.CounterValue, (*Collector).Rejections),
			def("frames_received_total", "Frames decoded from clients.", prometheus.CounterValue, (*Collector).FramesIn),
			def("frames_sent_total", "Frames written to clients.", prometheus.CounterValue, (*Collector).FramesOut),
			def("malformed_frames_total", "Frames dropped because they failed to decode.", prometheus.CounterValue, (*Collector).MalformedFrames),
			def("protocol_violations_total", "Messages ignored as invalid for the sender's state.", prometheus.CounterValue, (*Collector).ProtocolViolations),
			def("broadcasts_total", "Messages fanned out to other sessions.", prometheus.CounterValue, (*Collector).Broadcasts),
			def("received_bytes_total", "Bytes read from client sockets.", prometheus.CounterValue, (*Collector).TotalBytesIn),
			def("sent_bytes_total", "Bytes written to client sockets.", prometheus.CounterValue, (*Collector).TotalBytesOut),
			def("errors_total", "Errors recorded by the server.", prometheus.CounterValue, (*Collector).ErrorCount),
		},
		uptime: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since the server started.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.descs {
		ch <- d.desc
	}
	ch <- e.uptime
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, d := range e.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, float64(d.value(e.c)))
	}
	var up float64
	if e.c != nil {
		up = time.Since(e.c.startTime).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, up)
}
