package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msgwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	streamsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "streams",
			Name:      "accepted_total",
			Help:      "Streams accepted from peers.",
		},
		[]string{"direction"},
	)
	streamsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "streams",
			Name:      "classified_total",
			Help:      "Streams whose purpose header was fully read.",
		},
		[]string{"purpose"},
	)
	streamsAbandoned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "streams",
			Name:      "abandoned_total",
			Help:      "Streams dropped before completing their header or while mid-frame.",
		},
		[]string{"stage", "reason"},
	)
	framesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "frames_decoded_total",
			Help:      "Complete frames extracted from message streams.",
		},
	)
	messagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "routed_total",
			Help:      "Payloads decoded into typed inboxes.",
		},
		[]string{"type"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "decode_failures_total",
			Help:      "Payloads dropped because the codec rejected them.",
		},
		[]string{"type"},
	)
	unknownFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "unknown_type_total",
			Help:      "Frames dropped because their type id is not registered.",
		},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Messages appended to send buffers.",
		},
		[]string{"type"},
	)
	sendsDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "sends_deferred_total",
			Help:      "Non-queued sends refused because the stream was congested.",
		},
	)
	bytesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "messages",
			Name:      "bytes_flushed_total",
			Help:      "Send buffer bytes accepted by the transport.",
		},
	)
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "msgwire",
			Subsystem: "session",
			Name:      "connections",
			Help:      "Connections tracked by session endpoints.",
		},
	)
	connectionFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgwire",
			Subsystem: "session",
			Name:      "connection_faults_total",
			Help:      "Connections dropped after a transport fault.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			streamsAccepted, streamsClassified, streamsAbandoned,
			framesDecoded, messagesRouted, decodeFailures, unknownFrames,
			messagesSent, sendsDeferred, bytesFlushed,
			connections, connectionFaults,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordStreamAccepted(direction string) {
	RegisterMetrics()
	streamsAccepted.WithLabelValues(direction).Inc()
}

func RecordStreamClassified(purpose string) {
	RegisterMetrics()
	streamsClassified.WithLabelValues(purpose).Inc()
}

// RecordStreamAbandoned counts a dropped stream. stage is "header" or
// "message"; reason is "finished" or "reset".
func RecordStreamAbandoned(stage, reason string) {
	RegisterMetrics()
	streamsAbandoned.WithLabelValues(stage, reason).Inc()
}

func RecordFrameDecoded() {
	RegisterMetrics()
	framesDecoded.Inc()
}

func RecordMessageRouted(typeName string) {
	RegisterMetrics()
	messagesRouted.WithLabelValues(typeName).Inc()
}

func RecordDecodeFailure(typeName string) {
	RegisterMetrics()
	decodeFailures.WithLabelValues(typeName).Inc()
}

func RecordUnknownFrames(n int) {
	RegisterMetrics()
	unknownFrames.Add(float64(n))
}

func RecordMessageSent(typeName string) {
	RegisterMetrics()
	messagesSent.WithLabelValues(typeName).Inc()
}

func RecordSendDeferred() {
	RegisterMetrics()
	sendsDeferred.Inc()
}

func RecordBytesFlushed(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	bytesFlushed.Add(float64(n))
}

func RecordConnections(delta int) {
	RegisterMetrics()
	connections.Add(float64(delta))
}

func RecordConnectionFault() {
	RegisterMetrics()
	connectionFaults.Inc()
}
