package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/ibtop/internal/ib"
	"github.com/skobkin/ibtop/internal/sampler"
)

const metricsNamespace = "ibtop"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if s.sampler != nil {
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sampler",
				Name:      "cycles_total",
				Help:      "Total sampling cycles completed.",
			}, func() float64 {
				return float64(s.sampler.Cycles())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sampler",
				Name:      "skipped_total",
				Help:      "Total port readings skipped because of counter errors.",
			}, func() float64 {
				return float64(s.sampler.Skips())
			}),
		)
	}

	if portCollector := newPortMetricsCollector(s.sampler); portCollector != nil {
		collectors = append(collectors, portCollector)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

type portMetricsCollector struct {
	sampler *sampler.Manager
	ports   []ib.PortRef
	metrics []portMetric
}

type portMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(sample sampler.Sample) float64
}

func newPortMetricsCollector(samplerManager *sampler.Manager) prometheus.Collector {
	if samplerManager == nil {
		return nil
	}
	ports := samplerManager.Ports()
	if len(ports) == 0 {
		return nil
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "port", name),
			help,
			[]string{"interface", "port"},
			nil,
		)
	}

	return &portMetricsCollector{
		sampler: samplerManager,
		ports:   ports,
		metrics: []portMetric{
			{
				desc:      desc("receive_mbps", "Receive bandwidth over the latest sampling window in megabits per second."),
				valueType: prometheus.GaugeValue,
				extract:   func(sample sampler.Sample) float64 { return sample.ReceiveMbps },
			},
			{
				desc:      desc("transmit_mbps", "Transmit bandwidth over the latest sampling window in megabits per second."),
				valueType: prometheus.GaugeValue,
				extract:   func(sample sampler.Sample) float64 { return sample.TransmitMbps },
			},
			{
				desc:      desc("receive_data_units_total", "Raw port_rcv_data counter value (4-octet units)."),
				valueType: prometheus.CounterValue,
				extract:   func(sample sampler.Sample) float64 { return float64(sample.ReceivedUnits) },
			},
			{
				desc:      desc("transmit_data_units_total", "Raw port_xmit_data counter value (4-octet units)."),
				valueType: prometheus.CounterValue,
				extract:   func(sample sampler.Sample) float64 { return float64(sample.TransmittedUnits) },
			},
			{
				desc:      desc("sample_age_seconds", "Seconds elapsed since the latest sample of the port."),
				valueType: prometheus.GaugeValue,
				extract: func(sample sampler.Sample) float64 {
					return max(time.Since(sample.Timestamp).Seconds(), 0)
				},
			},
		},
	}
}

func (c *portMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *portMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ref := range c.ports {
		sample, ok := c.sampler.Latest(ref)
		if !ok {
			continue
		}
		for _, metric := range c.metrics {
			ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, metric.extract(sample), ref.Interface, ref.Port)
		}
	}
}
