// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles        prometheus.Counter
	PollErrors        prometheus.Counter
	SpacesResolved    *prometheus.CounterVec // label: outcome (running|skipped|failed)
	SpacesSaved       prometheus.Counter
	SaveFailures      prometheus.Counter
	GatewayTasks      prometheus.Counter
	GatewayTaskErrors prometheus.Counter
	CaptionPages      prometheus.Counter
	CaptionMessages   prometheus.Counter
	CaptionDownloads  *prometheus.CounterVec // label: result (complete|failed)

	// Histograms (seconds)
	GatewayWait      prometheus.Observer
	PollDuration     prometheus.Observer
	DownloadDuration prometheus.Observer

	// Gauges
	GatewayQueueDepth prometheus.Gauge
	ActiveDownloads   prometheus.Gauge
	WorkingSetSize    *prometheus.GaugeVec // label: username
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "space_poll_cycles_total", Help: "Number of watcher poll cycles"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "space_poll_errors_total", Help: "Number of poll cycles whose timeline fetch failed"})
		SpacesResolved = promauto.NewCounterVec(prometheus.CounterOpts{Name: "space_resolutions_total", Help: "Space detail resolutions by outcome"}, []string{"outcome"})
		SpacesSaved = promauto.NewCounter(prometheus.CounterOpts{Name: "space_saves_total", Help: "Number of live spaces persisted"})
		SaveFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "space_save_failures_total", Help: "Number of failed space saves (rolled back)"})
		GatewayTasks = promauto.NewCounter(prometheus.CounterOpts{Name: "space_gateway_tasks_total", Help: "Number of upstream calls admitted by the gateway"})
		GatewayTaskErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "space_gateway_task_errors_total", Help: "Number of upstream calls that returned an error"})
		CaptionPages = promauto.NewCounter(prometheus.CounterOpts{Name: "space_caption_pages_total", Help: "Caption history pages fetched"})
		CaptionMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "space_caption_messages_total", Help: "Caption records written"})
		CaptionDownloads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "space_caption_downloads_total", Help: "Caption download runs by result"}, []string{"result"})
		GatewayWait = promauto.NewHistogram(prometheus.HistogramOpts{Name: "space_gateway_wait_seconds", Help: "Time a task spent queued before admission", Buckets: prometheus.DefBuckets})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "space_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "space_caption_download_duration_seconds", Help: "Caption download duration seconds", Buckets: []float64{1, 5, 15, 60, 300, 900, 3600}})
		GatewayQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "space_gateway_queue_depth", Help: "Tasks waiting for gateway admission"})
		ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{Name: "space_caption_downloads_active", Help: "Caption downloads in progress"})
		WorkingSetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "space_working_set_size", Help: "Space ids held in a watcher's working set"}, []string{"username"})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add adds n to c if metrics are initialized.
func Add(c prometheus.Counter, n int) {
	if c != nil {
		c.Add(float64(n))
	}
}

// IncLabel increments the labelled child of v if metrics are initialized.
func IncLabel(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

// SetQueueDepth records the current gateway queue length.
func SetQueueDepth(n int) {
	if GatewayQueueDepth != nil {
		GatewayQueueDepth.Set(float64(n))
	}
}

// SetActiveDownloads records the number of running caption downloads.
func SetActiveDownloads(n int) {
	if ActiveDownloads != nil {
		ActiveDownloads.Set(float64(n))
	}
}

// SetWorkingSetSize records a watcher's working set size.
func SetWorkingSetSize(username string, n int) {
	if WorkingSetSize != nil {
		WorkingSetSize.WithLabelValues(username).Set(float64(n))
	}
}

// Observe records d in obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
