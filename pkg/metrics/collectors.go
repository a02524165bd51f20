package metrics

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricName = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelName  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Opts names a collector. The exported name is namespace_subsystem_name.
type Opts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Labels    []string
	// Buckets applies to histograms only. Nil selects prometheus.DefBuckets.
	Buckets []float64
}

func (o Opts) fqName() string {
	return prometheus.BuildFQName(o.Namespace, o.Subsystem, o.Name)
}

func (o Opts) validate() error {
	if name := o.fqName(); !metricName.MatchString(name) {
		return fmt.Errorf("invalid metric name %q", name)
	}
	for _, l := range o.Labels {
		if !labelName.MatchString(l) {
			return fmt.Errorf("invalid label name %q", l)
		}
		if strings.HasPrefix(l, "__") {
			return fmt.Errorf("label name %q is reserved", l)
		}
	}
	return nil
}

// register adds c to the registry. A collector already registered under the same
// descriptor is returned in place of c, so constructors can run more than once.
func register[C prometheus.Collector](o Opts, c C) (C, error) {
	var zero C
	reg := Registry()
	if reg == nil {
		return zero, fmt.Errorf("metrics not initialized: call Init before registering %s", o.fqName())
	}
	if err := o.validate(); err != nil {
		return zero, err
	}

	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return zero, fmt.Errorf("registering %s: %w", o.fqName(), err)
	}
	return c, nil
}

// Counter is a labelled counter.
type Counter struct{ vec *prometheus.CounterVec }

func NewCounter(o Opts) (*Counter, error) {
	vec, err := register(o, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
	}, o.Labels))
	if err != nil {
		return nil, err
	}
	return &Counter{vec: vec}, nil
}

func (c *Counter) Inc(labels ...string) { c.vec.WithLabelValues(labels...).Inc() }

func (c *Counter) Add(v float64, labels ...string) { c.vec.WithLabelValues(labels...).Add(v) }

// With returns the child counter for labels.
func (c *Counter) With(labels ...string) prometheus.Counter { return c.vec.WithLabelValues(labels...) }

// Gauge is a labelled gauge.
type Gauge struct{ vec *prometheus.GaugeVec }

func NewGauge(o Opts) (*Gauge, error) {
	vec, err := register(o, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
	}, o.Labels))
	if err != nil {
		return nil, err
	}
	return &Gauge{vec: vec}, nil
}

func (g *Gauge) Set(v float64, labels ...string) { g.vec.WithLabelValues(labels...).Set(v) }

func (g *Gauge) With(labels ...string) prometheus.Gauge { return g.vec.WithLabelValues(labels...) }

// Histogram is a labelled histogram.
type Histogram struct{ vec *prometheus.HistogramVec }

func NewHistogram(o Opts) (*Histogram, error) {
	buckets := o.Buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	vec, err := register(o, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help, Buckets: buckets,
	}, o.Labels))
	if err != nil {
		return nil, err
	}
	return &Histogram{vec: vec}, nil
}

func (h *Histogram) Observe(v float64, labels ...string) { h.vec.WithLabelValues(labels...).Observe(v) }

func (h *Histogram) With(labels ...string) prometheus.Observer { return h.vec.WithLabelValues(labels...) }
