// Package metrics defines the metric sample model shared by the translator,
// the cache, and the scrape collector.
package metrics

import (
	"sort"
	"strings"
)

// Kind represents the type of a metric sample
type Kind string

const (
	// KindGauge is a gauge metric (can go up or down)
	KindGauge Kind = "gauge"

	// KindCounter is a counter metric (monotonically increasing)
	KindCounter Kind = "counter"
)

// Label is a single metric dimension. Labels on a Sample are kept sorted by
// name so that equal label sets compare and render identically.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Sample is one translated metric: a stable snake-cased name, an ordered
// label set, and a numeric value. Name plus full label set identifies a
// series; a snapshot never contains the same series twice.
type Sample struct {
	// Name is the fully namespaced metric name, e.g. nutanix_vm_cpu_usage_percent
	Name string `json:"name"`

	// Help is the human-readable description exposed with the metric family
	Help string `json:"help,omitempty"`

	// Kind is the sample type (gauge or counter)
	Kind Kind `json:"kind"`

	// Value is the sample value after unit normalization
	Value float64 `json:"value"`

	// Labels are the sample dimensions, sorted by label name
	Labels []Label `json:"labels,omitempty"`
}

// NewGauge creates a gauge sample with no labels.
func NewGauge(name, help string, value float64) Sample {
	return Sample{Name: name, Help: help, Kind: KindGauge, Value: value}
}

// NewCounter creates a counter sample with no labels.
func NewCounter(name, help string, value float64) Sample {
	return Sample{Name: name, Help: help, Kind: KindCounter, Value: value}
}

// WithLabel returns a copy of the sample with one label added, keeping the
// label set sorted.
func (s Sample) WithLabel(name, value string) Sample {
	labels := make([]Label, 0, len(s.Labels)+1)
	labels = append(labels, s.Labels...)
	labels = append(labels, Label{Name: name, Value: value})
	sortLabels(labels)
	s.Labels = labels
	return s
}

// WithLabels returns a copy of the sample with all given labels added.
func (s Sample) WithLabels(labels map[string]string) Sample {
	merged := make([]Label, 0, len(s.Labels)+len(labels))
	merged = append(merged, s.Labels...)
	for k, v := range labels {
		merged = append(merged, Label{Name: k, Value: v})
	}
	sortLabels(merged)
	s.Labels = merged
	return s
}

// Label returns the value of the named label, if present.
func (s Sample) Label(name string) (string, bool) {
	for _, l := range s.Labels {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// LabelNames returns the sorted label names of the sample.
func (s Sample) LabelNames() []string {
	names := make([]string, len(s.Labels))
	for i, l := range s.Labels {
		names[i] = l.Name
	}
	return names
}

// LabelValues returns the label values in label-name order.
func (s Sample) LabelValues() []string {
	values := make([]string, len(s.Labels))
	for i, l := range s.Labels {
		values[i] = l.Value
	}
	return values
}

// Key returns the series identity of the sample: the metric name plus the
// full ordered label set. Two samples with equal keys are the same series.
func (s Sample) Key() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, l := range s.Labels {
		b.WriteByte('|')
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	return b.String()
}

// Sort orders samples by (metric name, label set) in place so repeated
// translations of the same input produce identical output.
func Sort(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Key() < samples[j].Key()
	})
}

// Dedupe removes samples whose series identity repeats, keeping the first
// occurrence. The input must already be sorted. It returns the deduplicated
// slice and the number of samples dropped.
func Dedupe(samples []Sample) ([]Sample, int) {
	if len(samples) < 2 {
		return samples, 0
	}
	out := samples[:1]
	dropped := 0
	for _, s := range samples[1:] {
		if s.Key() == out[len(out)-1].Key() {
			dropped++
			continue
		}
		out = append(out, s)
	}
	return out, dropped
}

func sortLabels(labels []Label) {
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
}
