// Command processor is the market-data pipeline processor: it accepts
// framed ticks over TCP, fans them out to the reference analytic
// consumers and the forensics/flight-recorder pipeline, and serves
// Prometheus metrics (plus, optionally, an operator websocket feed).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/config"
	"github.com/tanayshah11/mercury-stream/internal/consumer"
	"github.com/tanayshah11/mercury-stream/internal/flightrecorder"
	"github.com/tanayshah11/mercury-stream/internal/forensics"
	"github.com/tanayshah11/mercury-stream/internal/logging"
	"github.com/tanayshah11/mercury-stream/internal/opsfeed"
	"github.com/tanayshah11/mercury-stream/internal/recorder"
	"github.com/tanayshah11/mercury-stream/internal/server"
	"github.com/tanayshah11/mercury-stream/internal/sink"
	"github.com/tanayshah11/mercury-stream/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is fine in production. godotenv.Load returns an
	// error when the file doesn't exist (or can't be parsed); that error
	// is ignored here.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load configuration: %v", err)
		return 2
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return 2
	}
	defer logger.Sync()

	b := bus.New(cfg.Bus.QueueCapacity)
	b.OnDrop(func(subName string) {
		telemetry.DropsTotal.Inc()
	})

	var rec *recorder.Recorder
	if cfg.Record.Enabled {
		rec = recorder.New(logger, cfg.Record.File)
		if err := rec.Start(); err != nil {
			logger.Errorw("failed to start recorder", "error", err)
			return 2
		}
		defer rec.Close()
	}

	vwapSub := b.Subscribe("vwap")
	volSub := b.Subscribe("volatility")
	volumeSub := b.Subscribe("volume")
	healthSub := b.Subscribe("health")

	vwap := consumer.NewVWAP(logger, vwapSub, cfg.Forensics.LogIntervalEvents, func(age, proc consumer.LatencyPercentiles) {
		telemetry.LatencyMs.Observe(float64(age.P99))
	})
	volatility := consumer.NewVolatility(logger, volSub, 100, true, cfg.Forensics.LogIntervalEvents)
	volume := consumer.NewVolume(logger, volumeSub, 10*time.Second)
	health := consumer.NewHealth(logger, healthSub, b, 10*time.Second, func(eventsPerSec float64) {
		telemetry.EventsPerSecond.Set(eventsPerSec)
	})

	// consumersDone tracks every Bus-subscribed consumer task so shutdown
	// can wait for each one to drain its queue before declaring the
	// process stopped, per the spec's shutdown ordering.
	var consumersDone sync.WaitGroup
	runConsumer := func(fn func()) {
		consumersDone.Add(1)
		go func() {
			defer consumersDone.Done()
			fn()
		}()
	}

	runConsumer(vwap.Run)
	runConsumer(volatility.Run)
	runConsumer(volume.Run)
	runConsumer(health.Run)

	var feed *opsfeed.Feed
	if cfg.OpsFeed.Enabled {
		feed = opsfeed.New(logger, b)
	}

	var fr *flightrecorder.FlightRecorder
	var fx *forensics.Forensics
	if cfg.Forensics.Enabled {
		fr = flightrecorder.New(logger, flightrecorder.Config{
			IncidentsDir: cfg.Forensics.IncidentsDir,
			PreEvents:    cfg.Flight.PreEvents,
			PostEvents:   cfg.Flight.PostEvents,
			Cooldown:     time.Duration(cfg.Flight.CooldownS) * time.Second,
		},
			flightrecorder.WithIncidentHook(func() {
				telemetry.IncidentsTotal.Inc()
				if feed != nil {
					feed.NotifyIncident("incident", "captured")
				}
			}),
			flightrecorder.WithCaptureFailureHook(func() {
				telemetry.IncidentCaptureFailuresTotal.Inc()
			}),
		)

		forensicsSub := b.SubscribeWithCapacity("forensics", cfg.Bus.QueueCapacity*5)
		fx, err = forensics.New(logger, forensicsSub, forensics.Config{
			DuplicateLRUMax:          cfg.Forensics.DuplicateLRUMax,
			LatencyWindow:            cfg.Forensics.LatencyWindow,
			LatencySpikeThresholdMs:  int64(cfg.Forensics.LatencySpikeThresholdMs),
			LatencyEvalEvery:         cfg.Forensics.LatencyEvalEvery,
			LatencyConsecutiveSpikes: cfg.Forensics.LatencyConsecutiveSpikes,
			LogIntervalEvents:        cfg.Forensics.LogIntervalEvents,
			DriftSampleFile:          cfg.Forensics.DriftSampleFile,
			DriftRateLimit:           100 * time.Millisecond,
			OnAnomaly: func(kind string) {
				telemetry.AnomaliesTotal.WithLabelValues(kind).Inc()
			},
			OnEvent: func(ageMs *int64) {
				telemetry.EventsTotal.Inc()
			},
		}, fr)
		if err != nil {
			logger.Errorw("failed to start forensics consumer", "error", err)
			return 2
		}
		defer fx.Close()

		runConsumer(fx.Run)
	}

	var ck *sink.Sink
	if cfg.ClickHouse.Enabled {
		sinkSub := b.Subscribe("sink")
		ck, err = sink.New(logger, sinkSub, sink.Config{
			Host:            cfg.ClickHouse.Host,
			Port:            cfg.ClickHouse.Port,
			User:            cfg.ClickHouse.User,
			Password:        cfg.ClickHouse.Password,
			Database:        cfg.ClickHouse.Database,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			FlushInterval:   cfg.ClickHouse.FlushInterval,
			Debug:           cfg.ClickHouse.Debug,
		})
		if err != nil {
			logger.Errorw("failed to start clickhouse sink, continuing without it", "error", err)
		} else {
			defer ck.Close()
			runConsumer(ck.Run)
		}
	}

	go runMetricsFlush(b)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if feed != nil {
		metricsMux.HandleFunc("/ws", feed.Handler())
	}

	metricsAddr := cfg.App.Host + ":" + strconv.Itoa(cfg.App.MetricsPort)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("metrics server error", "error", err)
		}
	}()

	tcpAddr := cfg.App.Host + ":" + strconv.Itoa(cfg.App.Port)
	srv := server.New(logger, server.Config{
		Addr:         tcpAddr,
		DrainTimeout: cfg.App.DrainTimeout,
	}, b, rec)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("shutdown signal received")
		cancel()
	}()

	logger.Infow("processor starting", "addr", tcpAddr, "metrics_addr", metricsAddr)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Errorw("tcp listener failed", "error", err)
		return 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.DrainTimeout)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	// The TCP listener and all connections are already closed at this
	// point (srv.ListenAndServe returned), so no more events will be
	// published. Closing the bus lets every consumer drain whatever it
	// already has queued, then observe end-of-stream.
	b.Shutdown()

	drained := make(chan struct{})
	go func() {
		consumersDone.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.App.DrainTimeout):
		logger.Warnw("drain timeout exceeded, some consumers may not have finished")
	}

	if fr != nil {
		fr.Shutdown(fx.Counters().Snapshot())
	}

	logger.Infow("processor stopped cleanly")
	return 0
}

// runMetricsFlush periodically copies bus-wide gauges into Prometheus;
// per-event counters are updated directly by the hooks above.
func runMetricsFlush(b *bus.Bus) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for range t.C {
		for sub, depth := range b.QueueDepths() {
			telemetry.QueueDepth.WithLabelValues(sub).Set(float64(depth))
		}
	}
}

