package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depwise_parsing_seconds",
		Help:    "Time spent parsing a source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	FilesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depwise_files_parsed_total",
		Help: "Source files processed by the import extractor, by result.",
	}, []string{"result"})

	ManifestsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depwise_manifests_parsed_total",
		Help: "Manifests read by the normalizer, by kind and result.",
	}, []string{"kind", "result"})

	ResolverLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depwise_resolver_lookups_total",
		Help: "Module resolutions, by the best confidence tier produced.",
	}, []string{"tier"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depwise_analysis_seconds",
		Help:    "Time spent on high-level analysis stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	Findings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "depwise_findings",
		Help: "Findings reported by the most recent run, by kind.",
	}, []string{"kind"})

	CombinationsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depwise_combinations_evaluated_total",
		Help: "Extras combinations evaluated by the matrix evaluator.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depwise_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)

// WriteTextfile dumps the default registry in the node-exporter textfile
// format so one-shot CLI runs can still be scraped.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
