// Package metrics provides Prometheus metrics for the stegochannel engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stegochannel"

// Metrics contains all Prometheus metrics for the engine.
type Metrics struct {
	// Channel metrics
	ChannelsActive   prometheus.Gauge
	ChannelsRegistered prometheus.Counter

	// Sender metrics
	TransmissionsStarted   prometheus.Counter
	TransmissionsCompleted prometheus.Counter
	TransmissionsCancelled prometheus.Counter
	BitsSent               *prometheus.CounterVec

	// Receiver metrics
	PostsPolled       *prometheus.CounterVec
	SignalPostsSeen   *prometheus.CounterVec
	BitsReceived      *prometheus.CounterVec
	FramesDecoded     prometheus.Counter
	DecodeFailures    *prometheus.CounterVec
	PollLatency       prometheus.Histogram

	// Forward error correction metrics
	FECCorrectionsApplied prometheus.Counter
	FECUncorrectable      prometheus.Counter

	// Beacon metrics
	BeaconFetchLatency *prometheus.HistogramVec
	BeaconFetchErrors  *prometheus.CounterVec
	BeaconCacheHits    *prometheus.CounterVec
	BeaconStaleServed  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered
// against the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Number of channels currently registered with the engine",
		}),
		ChannelsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_registered_total",
			Help:      "Total number of channels ever registered",
		}),

		TransmissionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_started_total",
			Help:      "Total number of transmissions started",
		}),
		TransmissionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_completed_total",
			Help:      "Total number of transmissions that completed all bits",
		}),
		TransmissionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_cancelled_total",
			Help:      "Total number of transmissions cancelled before completion",
		}),
		BitsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bits_sent_total",
			Help:      "Total protocol bits confirmed as sent, by channel",
		}, []string{"channel_id"}),

		PostsPolled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_polled_total",
			Help:      "Total posts fetched from a source, by source kind",
		}, []string{"source"}),
		SignalPostsSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_posts_seen_total",
			Help:      "Total posts that selected as a signal post, by channel",
		}, []string{"channel_id"}),
		BitsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bits_received_total",
			Help:      "Total protocol bits extracted from signal posts, by channel",
		}, []string{"channel_id"}),
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Total frames successfully decoded",
		}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total decode attempts that failed, by reason",
		}, []string{"reason"}),
		PollLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_latency_seconds",
			Help:      "Histogram of receiver poll tick latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		FECCorrectionsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fec_corrections_applied_total",
			Help:      "Total Reed-Solomon correction passes that recovered a frame",
		}),
		FECUncorrectable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fec_uncorrectable_total",
			Help:      "Total Reed-Solomon decode attempts that exceeded the correction bound",
		}),

		BeaconFetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "beacon_fetch_latency_seconds",
			Help:      "Histogram of live beacon fetch latency, by kind",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		BeaconFetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_fetch_errors_total",
			Help:      "Total live beacon fetch errors, by kind",
		}, []string{"kind"}),
		BeaconCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_cache_hits_total",
			Help:      "Total beacon values served from cache, by kind",
		}, []string{"kind"}),
		BeaconStaleServed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_stale_served_total",
			Help:      "Total beacon values served stale after a live fetch failure, by kind",
		}, []string{"kind"}),
	}
}

// RecordChannelRegistered records a channel being added to the engine.
func (m *Metrics) RecordChannelRegistered() {
	m.ChannelsActive.Inc()
	m.ChannelsRegistered.Inc()
}

// RecordChannelRemoved records a channel being removed from the engine.
func (m *Metrics) RecordChannelRemoved() {
	m.ChannelsActive.Dec()
}

// RecordTransmissionStarted records a transmission beginning.
func (m *Metrics) RecordTransmissionStarted() {
	m.TransmissionsStarted.Inc()
}

// RecordTransmissionCompleted records a transmission finishing all bits.
func (m *Metrics) RecordTransmissionCompleted(channelID string, bitCount int) {
	m.TransmissionsCompleted.Inc()
	m.BitsSent.WithLabelValues(channelID).Add(float64(bitCount))
}

// RecordTransmissionCancelled records a transmission aborted mid-flight.
func (m *Metrics) RecordTransmissionCancelled() {
	m.TransmissionsCancelled.Inc()
}

// RecordPostsPolled records posts fetched from one source kind.
func (m *Metrics) RecordPostsPolled(sourceKind string, count int) {
	m.PostsPolled.WithLabelValues(sourceKind).Add(float64(count))
}

// RecordSignalPost records a post selecting as a signal post for a channel.
func (m *Metrics) RecordSignalPost(channelID string) {
	m.SignalPostsSeen.WithLabelValues(channelID).Inc()
}

// RecordBitsReceived records bits extracted from signal posts for a channel.
func (m *Metrics) RecordBitsReceived(channelID string, count int) {
	m.BitsReceived.WithLabelValues(channelID).Add(float64(count))
}

// RecordFrameDecoded records a successful frame decode.
func (m *Metrics) RecordFrameDecoded() {
	m.FramesDecoded.Inc()
}

// RecordDecodeFailure records a failed decode attempt by reason.
func (m *Metrics) RecordDecodeFailure(reason string) {
	m.DecodeFailures.WithLabelValues(reason).Inc()
}

// RecordPoll records a completed receiver poll tick's latency.
func (m *Metrics) RecordPoll(latencySeconds float64) {
	m.PollLatency.Observe(latencySeconds)
}

// RecordFECCorrection records a Reed-Solomon pass that recovered a frame.
func (m *Metrics) RecordFECCorrection() {
	m.FECCorrectionsApplied.Inc()
}

// RecordFECUncorrectable records a Reed-Solomon pass that exceeded the
// correction bound.
func (m *Metrics) RecordFECUncorrectable() {
	m.FECUncorrectable.Inc()
}

// RecordBeaconFetch records a live beacon fetch's latency.
func (m *Metrics) RecordBeaconFetch(kind string, latencySeconds float64) {
	m.BeaconFetchLatency.WithLabelValues(kind).Observe(latencySeconds)
}

// RecordBeaconFetchError records a failed live beacon fetch.
func (m *Metrics) RecordBeaconFetchError(kind string) {
	m.BeaconFetchErrors.WithLabelValues(kind).Inc()
}

// RecordBeaconCacheHit records a beacon value served from cache.
func (m *Metrics) RecordBeaconCacheHit(kind string) {
	m.BeaconCacheHits.WithLabelValues(kind).Inc()
}

// RecordBeaconStaleServed records a beacon value served stale after a
// live fetch failure.
func (m *Metrics) RecordBeaconStaleServed(kind string) {
	m.BeaconStaleServed.WithLabelValues(kind).Inc()
}
