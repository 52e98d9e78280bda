// Package metrics exports handle and call activity as Prometheus metrics.
//
// A Recorder implements handle.Observer and call.Observer. A nil Recorder
// records nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ffierrors "github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/handle"
)

const namespace = "llvmffi"

// Recorder owns a private registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	handleEvents   *prometheus.CounterVec
	liveHandles    *prometheus.GaugeVec
	calls          *prometheus.CounterVec
	transients     prometheus.Counter
	transientBytes prometheus.Counter
}

// Option configures a Recorder.
type Option func(*options)

type options struct {
	runtime bool
	labels  prometheus.Labels
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(o *options) { o.runtime = true }
}

// WithConstLabels attaches labels to every metric, for example the wasm
// build a process loaded.
func WithConstLabels(labels map[string]string) Option {
	return func(o *options) { o.labels = labels }
}

// New creates a recorder with its own registry.
func New(opts ...Option) *Recorder {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &Recorder{registry: prometheus.NewRegistry()}
	r.handleEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "handle",
		Name:        "events_total",
		Help:        "Owning handle lifecycle events by handle kind and event.",
		ConstLabels: o.labels,
	}, []string{"kind", "event"})
	r.liveHandles = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "handle",
		Name:        "live",
		Help:        "Owning handles that still carry a release obligation.",
		ConstLabels: o.labels,
	}, []string{"kind"})
	r.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "call",
		Name:        "total",
		Help:        "Native routine invocations by routine and outcome.",
		ConstLabels: o.labels,
	}, []string{"routine", "result"})
	r.transients = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "call",
		Name:        "transient_allocations_total",
		Help:        "Transient native allocations made for call arguments and out slots.",
		ConstLabels: o.labels,
	})
	r.transientBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "call",
		Name:        "transient_bytes_total",
		Help:        "Bytes of transient native allocations.",
		ConstLabels: o.labels,
	})

	r.registry.MustRegister(r.handleEvents, r.liveHandles, r.calls, r.transients, r.transientBytes)
	if o.runtime {
		r.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		r.registry.MustRegister(collectors.NewGoCollector())
	}
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format. A nil
// recorder serves 404.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// OnHandleEvent implements handle.Observer.
func (r *Recorder) OnHandleEvent(e handle.Event) {
	if r == nil {
		return
	}
	r.handleEvents.WithLabelValues(e.Kind, e.Type.String()).Inc()
	switch e.Type {
	case handle.EventCreated:
		r.liveHandles.WithLabelValues(e.Kind).Inc()
	case handle.EventReleased, handle.EventReleaseFailed, handle.EventAliased:
		r.liveHandles.WithLabelValues(e.Kind).Dec()
	}
}

// OnCall implements call.Observer.
func (r *Recorder) OnCall(routine string, err error) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(routine, outcome(err)).Inc()
}

// OnTransients implements call.Observer.
func (r *Recorder) OnTransients(count int, bytes uint64) {
	if r == nil {
		return
	}
	r.transients.Add(float64(count))
	r.transientBytes.Add(float64(bytes))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var fe *ffierrors.Error
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "error"
}
