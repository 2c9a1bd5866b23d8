// Package metrics holds the Prometheus instruments of the voice pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WakeDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blueberry_wake_detections_total",
			Help: "Number of wake word detections",
		},
	)

	Utterances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueberry_utterances_total",
			Help: "Recorded utterances by transcription outcome",
		},
		[]string{"outcome"},
	)

	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueberry_commands_dispatched_total",
			Help: "Commands fired by the dispatch table",
		},
		[]string{"command"},
	)

	ReadOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blueberry_audio_read_overflows_total",
			Help: "Audio input overflows that were skipped",
		},
	)

	SilenceLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blueberry_silence_level",
			Help: "Current noise floor estimate (median absolute amplitude)",
		},
	)

	RecordingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blueberry_recording_duration_seconds",
			Help:    "Length of recorded utterances",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	ThinkingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "blueberry_thinking_duration_seconds",
			Help: "Beamforming plus transcription latency",
		},
	)

	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blueberry_lock_wait_seconds",
			Help:    "Time spent waiting for a shared resource lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"lock"},
	)

	ScheduledJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueberry_scheduled_job_runs_total",
			Help: "Scheduled job executions by tag",
		},
		[]string{"tag"},
	)

	OutputDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blueberry_output_dropped_total",
			Help: "Output messages dropped because the channel was full",
		},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
