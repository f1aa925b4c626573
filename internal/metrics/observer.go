package metrics

import "collection-viewer/internal/fsutil"

// fileRetryObserver implements fsutil.Observer using the Prometheus
// counters declared in this package.
type fileRetryObserver struct{}

// NewFileRetryObserver creates an observer that records file retry metrics
// into the Prometheus counters declared in metrics.go.
func NewFileRetryObserver() fsutil.Observer {
	return &fileRetryObserver{}
}

func (o *fileRetryObserver) ObserveRetryAttempt(operation string) {
	FileRetriesTotal.WithLabelValues(operation, "attempt").Inc()
}

func (o *fileRetryObserver) ObserveRetrySuccess(operation string) {
	FileRetriesTotal.WithLabelValues(operation, "success").Inc()
}

func (o *fileRetryObserver) ObserveRetryFailure(operation string) {
	FileRetriesTotal.WithLabelValues(operation, "failure").Inc()
}
