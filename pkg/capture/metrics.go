package capture

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace        = "sentrytap"
	captureSubsystem        = "capture"
	captureManagerSubsystem = "capture_manager"
)

var packetsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: captureSubsystem,
	Name:      "packets_processed_total",
	Help:      "Number of packets processed",
},
	[]string{"iface"},
)
var bytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: captureSubsystem,
	Name:      "bytes_received_total",
	Help:      "Number of bytes received",
},
	[]string{"iface"},
)
var bytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: captureSubsystem,
	Name:      "bytes_sent_total",
	Help:      "Number of bytes sent",
},
	[]string{"iface"},
)
var numFlows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: metricsNamespace,
	Subsystem: captureSubsystem,
	Name:      "flows_total",
	Help:      "Number of flows present in the flow map",
},
	[]string{"iface"},
)
var packetsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: captureSubsystem,
	Name:      "packets_dropped_total",
	Help:      "Number of packets dropped",
},
	[]string{"iface"},
)
var captureErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: captureSubsystem,
	Name:      "errors_total",
	Help:      "Number of errors encountered during packet capture",
},
	[]string{"iface"},
)

var interfacesCapturing = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: metricsNamespace,
	Subsystem: captureManagerSubsystem,
	Name:      "interfaces_capturing_total",
	Help:      "Number of interfaces that are actively capturing traffic",
})

func init() {
	prometheus.MustRegister(
		packetsProcessed,
		packetsDropped,
		bytesReceived,
		bytesSent,
		numFlows,
		captureErrors,
		interfacesCapturing,
	)
}
