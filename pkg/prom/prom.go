// Package prom registers the dispatcher's Prometheus metrics and serves them
// over the shared fasthttp stack.
package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	xhttp "github.com/apysky/broadcast-scheduler/pkg/http"
	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

const subsystemDispatch = "dispatch"

var (
	createOnce sync.Once

	schedulesFinalized *prometheus.CounterVec
	recipientSends     *prometheus.CounterVec
	sendRetries        prometheus.Counter
	sendDuration       prometheus.Histogram
)

// Create registers the metric set under the given namespace. Safe to call
// more than once; only the first call registers.
func Create(host, env, namespace string) error {
	var err error
	createOnce.Do(func() {
		constLabels := prometheus.Labels{"env": env, "instance": host}

		schedulesFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystemDispatch,
			Name:        "schedules_finalized_total",
			ConstLabels: constLabels,
		}, []string{"status"})

		recipientSends = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystemDispatch,
			Name:        "recipient_sends_total",
			ConstLabels: constLabels,
		}, []string{"outcome"})

		sendRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystemDispatch,
			Name:        "send_retries_total",
			ConstLabels: constLabels,
		})

		sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystemDispatch,
			Name:        "send_duration_seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		})

		for _, c := range []prometheus.Collector{schedulesFinalized, recipientSends, sendRetries, sendDuration} {
			if e := prometheus.Register(c); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}

func AddScheduleFinalized(status string) {
	if schedulesFinalized != nil {
		schedulesFinalized.WithLabelValues(status).Inc()
	}
}

func AddRecipientSend(outcome string) {
	if recipientSends != nil {
		recipientSends.WithLabelValues(outcome).Inc()
	}
}

func AddSendRetry() {
	if sendRetries != nil {
		sendRetries.Inc()
	}
}

func ObserveSendDuration(seconds float64) {
	if sendDuration != nil {
		sendDuration.Observe(seconds)
	}
}

// ListenAndServe blocks serving the metrics endpoint.
func ListenAndServe(addr, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}
