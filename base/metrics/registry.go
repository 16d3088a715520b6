package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when a metric with the same ID is
	// registered again.
	ErrAlreadyRegistered = errors.New("metric already registered")

	// ErrInvalidOptions is returned when invalid options where provided.
	ErrInvalidOptions = errors.New("invalid options")
)

// Registry holds a set of metrics that are exported together.
type Registry struct {
	namespace    string
	globalLabels map[string]string

	lock    sync.RWMutex
	metrics []Metric
}

// NewRegistry returns a new metric registry.
// The namespace is prefixed to all metric IDs; global labels are added to
// every metric, unless the metric defines the label itself.
func NewRegistry(namespace string, globalLabels map[string]string) (*Registry, error) {
	if namespace != "" && !prometheusFormat.MatchString(namespace) {
		return nil, fmt.Errorf("metric namespace %q must match %s", namespace, PrometheusFormatRequirement)
	}

	labels := make(map[string]string, len(globalLabels))
	for name, value := range globalLabels {
		// Check format.
		if !prometheusFormat.MatchString(name) {
			return nil, fmt.Errorf("metric label name %q must match %s", name, PrometheusFormatRequirement)
		}
		labels[name] = value
	}

	return &Registry{
		namespace:    namespace,
		globalLabels: labels,
	}, nil
}

func (r *Registry) register(m Metric) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	// Check if metric ID is already registered.
	for _, registeredMetric := range r.metrics {
		if m.LabeledID() == registeredMetric.LabeledID() {
			return ErrAlreadyRegistered
		}
		if m.Opts().InternalID != "" &&
			m.Opts().InternalID == registeredMetric.Opts().InternalID {
			return fmt.Errorf("%w with this internal ID", ErrAlreadyRegistered)
		}
	}

	// Add new metric to registry and sort it.
	r.metrics = append(r.metrics, m)
	sort.Sort(byLabeledID(r.metrics))

	return nil
}

// Metrics returns a copy of all registered metrics.
func (r *Registry) Metrics() []Metric {
	r.lock.RLock()
	defer r.lock.RUnlock()

	copied := make([]Metric, len(r.metrics))
	copy(copied, r.metrics)
	return copied
}

// WritePrometheus writes all metrics in the prometheus format to the given writer.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, m := range r.metrics {
		m.WritePrometheus(w)
	}
}

// ServeHTTP serves the metrics in the prometheus text format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	buf := new(bytes.Buffer)
	r.WritePrometheus(buf)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type byLabeledID []Metric

func (r byLabeledID) Len() int           { return len(r) }
func (r byLabeledID) Less(i, j int) bool { return r[i].LabeledID() < r[j].LabeledID() }
func (r byLabeledID) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
