// Package metrics counts record lifecycle activity with Prometheus collectors.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"lifeline/internal/model"
	"lifeline/internal/store"
)

// Collector implements store.Observer on a private registry.
type Collector struct {
	registry *prometheus.Registry

	Transitions *prometheus.CounterVec
	BecameDirty *prometheus.CounterVec
	BecameClean *prometheus.CounterVec
	Commits     *prometheus.CounterVec
	Dirty       *prometheus.GaugeVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_record_transitions_total",
			Help: "Record state changes by type and target state",
		}, []string{"type", "from", "to"}),
		BecameDirty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_records_dirtied_total",
			Help: "Records that joined a dirty bucket",
		}, []string{"type", "kind"}),
		BecameClean: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_records_cleaned_total",
			Help: "Records that left a dirty bucket",
		}, []string{"type", "kind"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_commits_total",
			Help: "Per-record commits by outcome",
		}, []string{"type", "kind", "outcome"}),
		Dirty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lifeline_dirty_records",
			Help: "Records currently waiting to be committed",
		}, []string{"type", "kind"}),
	}
	c.registry.MustRegister(c.Transitions, c.BecameDirty, c.BecameClean, c.Commits, c.Dirty)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RecordTransitioned(recordType, from, to string) {
	if from == "" {
		from = "none"
	}
	c.Transitions.WithLabelValues(recordType, from, to).Inc()
}

func (c *Collector) RecordBecameDirty(recordType string, kind model.DirtyKind) {
	c.BecameDirty.WithLabelValues(recordType, string(kind)).Inc()
	c.Dirty.WithLabelValues(recordType, string(kind)).Inc()
}

func (c *Collector) RecordBecameClean(recordType string, kind model.DirtyKind) {
	c.BecameClean.WithLabelValues(recordType, string(kind)).Inc()
	c.Dirty.WithLabelValues(recordType, string(kind)).Dec()
}

func (c *Collector) CommitFinished(recordType string, kind model.DirtyKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Commits.WithLabelValues(recordType, string(kind), outcome).Inc()
}

// WriteText dumps every metric in the Prometheus text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

var _ store.Observer = (*Collector)(nil)
