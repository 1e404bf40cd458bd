package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NativeCollector exposes process-level gauges through a real
// prometheus.Registry, complementing the hand-rolled text exporter above
// with content-negotiated, histogram/summary-capable scraping.
type NativeCollector struct {
	registry   *prometheus.Registry
	registryFn func() *Registry
	gauges     map[string]*prometheus.GaugeFunc
}

// NewNativeCollector returns a collector that reads current gauge values
// from src each time Prometheus scrapes, registering one GaugeFunc per
// name in names.
func NewNativeCollector(src *Registry, names []string) *NativeCollector {
	nc := &NativeCollector{
		registry: prometheus.NewRegistry(),
		registryFn: func() *Registry {
			return src
		},
		gauges: make(map[string]*prometheus.GaugeFunc, len(names)),
	}
	for _, name := range names {
		nc.registerGauge(name)
	}
	nc.registry.MustRegister(prometheus.NewGoCollector())
	nc.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return nc
}

func (nc *NativeCollector) registerGauge(name string) {
	promName := sanitizePromName(name)
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: promName,
		Help: "gauge value for metric " + name,
	}, func() float64 {
		reg := nc.registryFn()
		if reg == nil {
			return 0
		}
		reg.mu.RLock()
		defer reg.mu.RUnlock()
		if g, ok := reg.gauges[name]; ok {
			return float64(g.Value())
		}
		if c, ok := reg.counters[name]; ok {
			return float64(c.Value())
		}
		return 0
	})
	nc.registry.MustRegister(g)
	nc.gauges[name] = g
}

func sanitizePromName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

// Handler returns an http.Handler serving this collector's registry in
// Prometheus exposition format via the official client library.
func (nc *NativeCollector) Handler() http.Handler {
	return promhttp.HandlerFor(nc.registry, promhttp.HandlerOpts{})
}
