package prom

import (
	"net/http"

	"github.com/justirc/justirc-go/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// BrokerObserver exports broker metrics to Prometheus.
type BrokerObserver struct {
	connGauge       prometheus.Gauge
	channelGauge    prometheus.Gauge
	acceptedTotal   prometheus.Counter
	rejectedTotal   *prometheus.CounterVec
	closedTotal     *prometheus.CounterVec
	sessionsTotal   prometheus.Counter
	readTotal       *prometheus.CounterVec
	readBytes       *prometheus.CounterVec
	writtenTotal    *prometheus.CounterVec
	writtenBytes    *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	queueEnqueued   prometheus.Counter
	queueDelivered  prometheus.Counter
	queueExpired    prometheus.Counter
	queueDropped    prometheus.Counter
	channelsCreated prometheus.Counter
	channelJoins    prometheus.Counter
	channelParts    prometheus.Counter
	authTotal       *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	routeCache      *prometheus.CounterVec
}

// NewBrokerObserver registers broker metrics on the registry.
func NewBrokerObserver(reg *prometheus.Registry) *BrokerObserver {
	o := &BrokerObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justirc_broker_connections",
			Help: "Current client connection count.",
		}),
		channelGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justirc_broker_channels",
			Help: "Current active channel count.",
		}),
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_accepted_total",
			Help: "Connections accepted.",
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_rejected_total",
			Help: "Connections rejected before registration, by reason.",
		}, []string{"reason"}),
		closedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_closed_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_sessions_total",
			Help: "Sessions registered with a nickname.",
		}),
		readTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_envelopes_read_total",
			Help: "Envelopes read from clients, by type.",
		}, []string{"type"}),
		readBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_read_bytes_total",
			Help: "Envelope bytes read from clients, by type.",
		}, []string{"type"}),
		writtenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_envelopes_written_total",
			Help: "Envelopes written to clients, by type.",
		}, []string{"type"}),
		writtenBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_written_bytes_total",
			Help: "Envelope bytes written to clients, by type.",
		}, []string{"type"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_envelopes_dropped_total",
			Help: "Envelopes dropped without routing, by reason.",
		}, []string{"reason"}),
		queueEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_queue_enqueued_total",
			Help: "Messages enqueued for offline recipients.",
		}),
		queueDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_queue_delivered_total",
			Help: "Queued messages delivered on reconnect.",
		}),
		queueExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_queue_expired_total",
			Help: "Queued messages expired before delivery.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_queue_dropped_total",
			Help: "Queued messages dropped to make room.",
		}),
		channelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_channels_created_total",
			Help: "Channels created.",
		}),
		channelJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_channel_joins_total",
			Help: "Channel joins.",
		}),
		channelParts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justirc_broker_channel_parts_total",
			Help: "Channel parts, including disconnect cleanup.",
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_auth_total",
			Help: "Authentication outcomes.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_rate_limited_total",
			Help: "Rate-limit rejections, by scope.",
		}, []string{"scope"}),
		routeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justirc_broker_route_cache_total",
			Help: "Routing cache lookups, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.channelGauge,
		o.acceptedTotal,
		o.rejectedTotal,
		o.closedTotal,
		o.sessionsTotal,
		o.readTotal,
		o.readBytes,
		o.writtenTotal,
		o.writtenBytes,
		o.droppedTotal,
		o.queueEnqueued,
		o.queueDelivered,
		o.queueExpired,
		o.queueDropped,
		o.channelsCreated,
		o.channelJoins,
		o.channelParts,
		o.authTotal,
		o.rateLimited,
		o.routeCache,
	)
	return o
}

func (o *BrokerObserver) ConnCount(n int64) {
	o.connGauge.Set(float64(n))
}

func (o *BrokerObserver) ChannelCount(n int) {
	o.channelGauge.Set(float64(n))
}

func (o *BrokerObserver) ConnAccepted() {
	o.acceptedTotal.Inc()
}

func (o *BrokerObserver) ConnRejected(reason observability.RejectReason) {
	o.rejectedTotal.WithLabelValues(string(reason)).Inc()
}

func (o *BrokerObserver) ConnClosed(reason observability.CloseReason) {
	o.closedTotal.WithLabelValues(string(reason)).Inc()
}

func (o *BrokerObserver) SessionRegistered() {
	o.sessionsTotal.Inc()
}

func (o *BrokerObserver) EnvelopeRead(envType string, bytes int) {
	o.readTotal.WithLabelValues(envType).Inc()
	o.readBytes.WithLabelValues(envType).Add(float64(bytes))
}

func (o *BrokerObserver) EnvelopeWritten(envType string, bytes int) {
	o.writtenTotal.WithLabelValues(envType).Inc()
	o.writtenBytes.WithLabelValues(envType).Add(float64(bytes))
}

func (o *BrokerObserver) EnvelopeDropped(reason observability.DropReason) {
	o.droppedTotal.WithLabelValues(string(reason)).Inc()
}

func (o *BrokerObserver) QueueEnqueued() {
	o.queueEnqueued.Inc()
}

func (o *BrokerObserver) QueueDelivered(n int) {
	o.queueDelivered.Add(float64(n))
}

func (o *BrokerObserver) QueueExpired(n int) {
	o.queueExpired.Add(float64(n))
}

func (o *BrokerObserver) QueueDropped() {
	o.queueDropped.Inc()
}

func (o *BrokerObserver) ChannelCreated() {
	o.channelsCreated.Inc()
}

func (o *BrokerObserver) ChannelJoined() {
	o.channelJoins.Inc()
}

func (o *BrokerObserver) ChannelLeft() {
	o.channelParts.Inc()
}

func (o *BrokerObserver) Auth(outcome observability.AuthOutcome) {
	o.authTotal.WithLabelValues(string(outcome)).Inc()
}

func (o *BrokerObserver) RateLimited(scope observability.LimitScope) {
	o.rateLimited.WithLabelValues(string(scope)).Inc()
}

func (o *BrokerObserver) RouteCacheHit() {
	o.routeCache.WithLabelValues("hit").Inc()
}

func (o *BrokerObserver) RouteCacheMiss() {
	o.routeCache.WithLabelValues("miss").Inc()
}
