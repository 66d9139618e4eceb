// Package metrics 以Prometheus格式暴露注册与心跳相关指标。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eureka_sidecar"

// 心跳结果标签值
const (
	HeartbeatOK       = "ok"
	HeartbeatFailed   = "failed"
	HeartbeatNotFound = "not_found"
)

// Recorder 基于Prometheus的指标记录器
type Recorder struct {
	registry *prometheus.Registry

	registrations      prometheus.Counter
	registrationErrors prometheus.Counter
	deregistrations    prometheus.Counter
	heartbeats         *prometheus.CounterVec
	registered         *prometheus.GaugeVec
	running            prometheus.Gauge

	mu       sync.Mutex
	services map[string]struct{}
}

// NewRecorder 创建指标记录器并注册到独立的Registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		services: make(map[string]struct{}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of successful service registrations.",
		}),
		registrationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_errors_total",
			Help:      "Total number of service registration errors.",
		}),
		deregistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deregistrations_total",
			Help:      "Total number of deregistration requests sent.",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeats sent, by result.",
		}, []string{"result"}),
		registered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_registered",
			Help:      "Number of registered instances with an active heartbeat loop, by service.",
		}, []string{"service"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_instances",
			Help:      "Number of instances with an active heartbeat loop.",
		}),
	}

	r.registry.MustRegister(
		r.registrations,
		r.registrationErrors,
		r.deregistrations,
		r.heartbeats,
		r.registered,
		r.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegistrationSucceeded 记录一次注册成功
func (r *Recorder) RegistrationSucceeded(service string) {
	r.registrations.Inc()
}

// RegistrationFailed 记录一次注册失败
func (r *Recorder) RegistrationFailed(service string) {
	r.registrationErrors.Inc()
}

// Heartbeat 记录一次心跳结果
func (r *Recorder) Heartbeat(service, result string) {
	r.heartbeats.WithLabelValues(result).Inc()
}

// Deregistered 记录一次注销请求
func (r *Recorder) Deregistered(service string) {
	r.deregistrations.Inc()
}

// SetActive 按服务设置Active实例数，未出现的服务置为0
func (r *Recorder) SetActive(perService map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for service := range r.services {
		if _, ok := perService[service]; !ok {
			r.registered.WithLabelValues(service).Set(0)
		}
	}
	for service, n := range perService {
		r.services[service] = struct{}{}
		r.registered.WithLabelValues(service).Set(float64(n))
		total += n
	}
	r.running.Set(float64(total))
}

// Registry 返回底层的Prometheus Registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回/metrics使用的HTTP处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
