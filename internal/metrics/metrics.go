package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	DroppedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_messages_dropped_total", Help: "Inbound feed messages that could not be parsed"},
		[]string{"provider"},
	)
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Feed reconnect attempts"},
		[]string{"provider"},
	)
	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "feed_state", Help: "Feed connection state (0 disconnected, 1 connecting, 2 connected)"},
		[]string{"provider"},
	)
	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetch_errors_total", Help: "Failed REST fetches"},
		[]string{"source"},
	)
	PredictionsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "predictions_opened_total", Help: "Predictions armed"},
		[]string{"symbol", "horizon"},
	)
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "settlements_total", Help: "Predictions settled"},
		[]string{"symbol", "horizon", "status"},
	)
	SettledPL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "settled_pl_total", Help: "Cumulative paper P&L across all settlements"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		DroppedMessagesTotal,
		ReconnectsTotal,
		FeedState,
		FetchErrorsTotal,
		PredictionsOpenedTotal,
		SettlementsTotal,
		SettledPL,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
