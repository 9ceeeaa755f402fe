// Package metrics exposes the prometheus collectors of the mirror and the producer.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	NotificationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "notifications_applied_total",
		Help:      "Data change notifications applied to a mirrored field.",
	}, []string{"object"})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "notifications_dropped_total",
		Help:      "Data change notifications for nodes with no mirrored field.",
	}, []string{"object"})

	PendingNotifications = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mirror",
		Name:      "notifications_pending",
		Help:      "Notifications queued and not yet applied.",
	}, []string{"object"})

	Writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Name:      "writes_total",
		Help:      "Field values pushed to server nodes.",
	}, []string{"object", "result"})

	BoundObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mirror",
		Name:      "bound_objects",
		Help:      "Mirrored objects currently bound to a node.",
	})

	SpectraProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulator",
		Name:      "spectra_produced_total",
		Help:      "Spectra written by the data producer.",
	}, []string{"channel"})

	ForwardedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forward",
		Name:      "messages_total",
		Help:      "Mirrored changes published to the MQTT broker.",
	}, []string{"result"})
)

// Serve starts the /metrics endpoint on addr. The returned function shuts it down.
func Serve(addr string, log *logrus.Logger) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("Address", addr).Infoln("Serving prometheus metrics 📈")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("Err", err).Errorln("Metrics endpoint stopped ⛔")
		}
	}()
	return srv.Shutdown
}
