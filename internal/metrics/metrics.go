package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cpuminer"

var (
	SocketErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "socket_errors_total",
		Help:      "Transport and protocol errors recorded on pool connections.",
	})

	Logins = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login calls issued to the pool.",
	})

	Submits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submits_total",
		Help:      "Submit calls issued to the pool.",
	})

	SharesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_accepted_total",
		Help:      "Results accepted by the pool.",
	})

	SharesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_rejected_total",
		Help:      "Results rejected by the pool or dropped, by reason.",
	}, []string{"reason"})

	HashesAbandoned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hashes_abandoned",
		Help:      "Digests computed that did not meet the job target.",
	})

	Hashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hashrate",
		Help:      "Aggregate hash rate in H/s by averaging window.",
	}, []string{"window"})

	HighestHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hashrate_highest",
		Help:      "Highest aggregate 10s hash rate seen, in H/s.",
	})

	PoolDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_difficulty",
		Help:      "Difficulty of the current pool job.",
	})

	PoolCallLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pool_call_latency_seconds",
		Help:      "Round-trip time of submit calls.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connected",
		Help:      "1 while logged in to the pool.",
	})

	JobsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_received_total",
		Help:      "Jobs received from the pool.",
	})

	WorkersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_running",
		Help:      "Worker threads started.",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Miner uptime in seconds.",
	})

	EventsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_handled_total",
		Help:      "Executor events handled, by event name.",
	}, []string{"event"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SocketErrors,
		Logins,
		Submits,
		SharesAccepted,
		SharesRejected,
		HashesAbandoned,
		Hashrate,
		HighestHashrate,
		PoolDifficulty,
		PoolCallLatency,
		Connected,
		JobsReceived,
		WorkersRunning,
		UptimeSeconds,
		EventsHandled,
	}
}

// Register adds every collector to reg, labelled with the machine id.
func Register(reg prometheus.Registerer, machineID string) error {
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"machine_id": machineID}, reg)
	for _, c := range collectors() {
		if err := wrapped.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns an HTTP handler for the /metrics endpoint of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
