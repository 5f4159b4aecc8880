package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HLS session metrics
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airstream_hls_sessions_started_total",
		Help: "Total number of segmenting sessions started",
	})

	SessionsDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airstream_hls_sessions_destroyed_total",
		Help: "Total number of segmenting sessions destroyed",
	}, []string{"reason"}) // superseded, idle, failed, shutdown

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airstream_hls_active_sessions",
		Help: "Number of live segmenting sessions",
	})

	SegmentsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airstream_hls_segments_served_total",
		Help: "Total number of segment files served",
	})

	SegmentWaitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airstream_hls_segment_wait_timeouts_total",
		Help: "Total number of segment waits that timed out (served as 503)",
	})

	SegmentWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airstream_hls_segment_wait_duration_seconds",
		Help:    "Time spent waiting for a segment to appear on disk",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)

// Transcoding metrics
var (
	ProcessChainsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airstream_transcode_chains_started_total",
		Help: "Total number of external process chains spawned",
	})

	TranscodeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airstream_transcode_fallbacks_total",
		Help: "Total number of requests that fell back to raw passthrough",
	})
)

// Playlist metrics
var (
	PlaylistsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airstream_hls_playlists_served_total",
		Help: "Total number of HLS playlists rendered",
	}, []string{"kind"}) // variant, single
)
