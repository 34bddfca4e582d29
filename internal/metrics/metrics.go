// Package metrics exposes gateway counters in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tidewatch"

// Publish results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

var (
	LinesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_received_total",
		Help:      "Lines read from the serial link in logging mode",
	})
	RecordsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_accepted_total",
		Help:      "Live records accepted in sequence",
	})
	RecordsUnparsable = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_unparsable_total",
		Help:      "Live lines that did not parse as a record",
	})
	Gaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequence_gaps_total",
		Help:      "Live records whose sequence number did not follow the last accepted one",
	})
	Publishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publishes_total",
		Help:      "Direct publishes of live records by result",
	}, []string{"result"})
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_cycles_total",
		Help:      "Card sync cycles by final state",
	}, []string{"outcome"})
	FilesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_downloaded_total",
		Help:      "Card files received",
	})
	CardResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "card_resets_total",
		Help:      "Times local files were archived because card numbering went backwards",
	})
	CatchUpRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catchup_records_total",
		Help:      "Records published by catch-up passes by source",
	}, []string{"source"})
	WatchdogExits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchdog_menu_exits_total",
		Help:      "Forced menu exits after the data watchdog expired",
	})
	TransportUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transport_up",
		Help:      "1 while the serial link is open",
	})
	OutOfSync = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_out_of_sync",
		Help:      "1 while a failed publish awaits local-log catch-up",
	})
)

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
