// Package metrics defines the observer callbacks the gateway reports through
// and a Prometheus implementation of them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docgateway"

type Observer interface {
	WriteAttempted()
	WriteSucceeded()
	WriteConflicted()
	WriteFailed()

	ReadAttempted()
	ReadSucceeded()
	ReadNotFound()
	ReadFailed()

	SubscriptionOpened()
	SubscriptionClosed()
}

// Nop discards every observation.
type Nop struct{}

func (Nop) WriteAttempted()     {}
func (Nop) WriteSucceeded()     {}
func (Nop) WriteConflicted()    {}
func (Nop) WriteFailed()        {}
func (Nop) ReadAttempted()      {}
func (Nop) ReadSucceeded()      {}
func (Nop) ReadNotFound()       {}
func (Nop) ReadFailed()         {}
func (Nop) SubscriptionOpened() {}
func (Nop) SubscriptionClosed() {}

// Prometheus records observations on its own registry so several instances can coexist in tests.
type Prometheus struct {
	registry *prometheus.Registry

	writeRequests  prometheus.Counter
	writeSuccess   prometheus.Counter
	writeConflicts prometheus.Counter
	writeErrors    prometheus.Counter

	readRequests prometheus.Counter
	readSuccess  prometheus.Counter
	readNotFound prometheus.Counter
	readErrors   prometheus.Counter

	activeSubscriptions prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	counter := func(subsystem, name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Prometheus{
		registry:       reg,
		writeRequests:  counter("write", "requests_total", "Write requests received."),
		writeSuccess:   counter("write", "success_total", "Writes committed."),
		writeConflicts: counter("write", "conflicts_total", "Writes rejected by a version conflict."),
		writeErrors:    counter("write", "errors_total", "Writes that failed for any other reason."),
		readRequests:   counter("read", "requests_total", "Read requests received."),
		readSuccess:    counter("read", "success_total", "Reads that returned a document."),
		readNotFound:   counter("read", "not_found_total", "Reads of unknown documents or versions."),
		readErrors:     counter("read", "errors_total", "Reads that failed for any other reason."),
		activeSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Change subscriptions currently open.",
		}),
	}
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) WriteAttempted()     { p.writeRequests.Inc() }
func (p *Prometheus) WriteSucceeded()     { p.writeSuccess.Inc() }
func (p *Prometheus) WriteConflicted()    { p.writeConflicts.Inc() }
func (p *Prometheus) WriteFailed()        { p.writeErrors.Inc() }
func (p *Prometheus) ReadAttempted()      { p.readRequests.Inc() }
func (p *Prometheus) ReadSucceeded()      { p.readSuccess.Inc() }
func (p *Prometheus) ReadNotFound()       { p.readNotFound.Inc() }
func (p *Prometheus) ReadFailed()         { p.readErrors.Inc() }
func (p *Prometheus) SubscriptionOpened() { p.activeSubscriptions.Inc() }
func (p *Prometheus) SubscriptionClosed() { p.activeSubscriptions.Dec() }
