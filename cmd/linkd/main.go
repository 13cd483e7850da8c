// Command linkd runs one adaptive laser link: it owns the range sensor,
// alignment tracker, and power controller, exposes Prometheus metrics, and
// keeps a SQLite audit trail of everything the control loop decides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zedarvates/short-range-real-gibberlink/core"
	"github.com/zedarvates/short-range-real-gibberlink/internal/audit"
	"github.com/zedarvates/short-range-real-gibberlink/internal/hardware/serialrange"
	"github.com/zedarvates/short-range-real-gibberlink/internal/hardware/simrange"
	"github.com/zedarvates/short-range-real-gibberlink/internal/logging"
	"github.com/zedarvates/short-range-real-gibberlink/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "linkd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration (defaults apply when empty)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewLinkCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	sinks := []core.EventSink{collector, &logSink{log: log}}
	var auditStore *audit.Store
	if cfg.AuditPath != "" {
		auditStore, err = audit.Open(ctx, cfg.AuditPath, "")
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditStore.Close()
		sinks = append(sinks, auditStore)
	}
	sink := core.NewFanOutSink(sinks...)

	var (
		hw      core.RangeHardware
		emitter core.LaserEmitter
		simHead *simrange.Head
	)
	switch cfg.Hardware {
	case "serial":
		driver, err := serialrange.Open(cfg.SerialDevice)
		if err != nil {
			return err
		}
		defer driver.Close()
		hw, emitter = driver, driver
	case "sim":
		simHead = simrange.New(cfg.SimSeed, cfg.SimDistanceM)
		hw, emitter = simHead, simHead
	}

	profile, err := cfg.Profile()
	if err != nil {
		return fmt.Errorf("build link profile: %w", err)
	}
	link, err := core.NewLink(profile, hw, emitter, nil, sink)
	if err != nil {
		return fmt.Errorf("build link: %w", err)
	}
	defer link.Shutdown()

	if cfg.Environment != nil {
		if err := link.UpdateEnvironmentalConditions(cfg.Environment.Conditions()); err != nil {
			return fmt.Errorf("apply environment config: %w", err)
		}
	}

	ctx, log = logging.WithLinkLogger(ctx, log, link.ID())
	log.Info(ctx, "link assembled",
		logging.String("hardware", cfg.Hardware),
		logging.String("laser", string(profile.Laser.Type)),
		logging.Float64("max_power_mw", profile.Laser.MaxPowerMW),
	)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "metrics server failed", logging.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info(ctx, "metrics listening", logging.String("addr", cfg.MetricsAddr))
	}

	if err := link.Alignment().BeginSearch(); err != nil {
		return err
	}
	if simHead != nil {
		go feedSimAlignment(ctx, link)
	}
	if err := link.EnableAdaptiveMode(ctx); err != nil {
		return err
	}

	go reportDiagnostics(ctx, link, log)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	return nil
}

// feedSimAlignment drives the tracker with synthetic feedback that converges
// to lock, so a simulated deployment starts adapting on its own.
func feedSimAlignment(ctx context.Context, link *core.Link) {
	feed := simrange.NewAlignmentFeed(7, 3.0, 0.8, 0.02)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			link.OfferAlignmentSample(feed.Next(now))
		}
	}
}

// reportDiagnostics logs a health snapshot once a minute.
func reportDiagnostics(ctx context.Context, link *core.Link, log logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d := link.Diagnostics()
			fields := []logging.Field{
				logging.String("state", string(d.State)),
				logging.String("alignment", string(d.Alignment.State)),
				logging.Float64("emitted_joules", d.EmittedJoules),
			}
			if d.Params != nil {
				fields = append(fields,
					logging.Float64("power_mw", d.Params.CommandedPowerMW),
					logging.String("modulation", string(d.Params.ActiveModulation)),
					logging.String("category", string(d.Params.RangeCategory)),
				)
			}
			if d.LastMeasurement != nil {
				fields = append(fields, logging.Float64("distance_m", d.LastMeasurement.DistanceM))
			}
			log.Info(ctx, "link diagnostics", fields...)
		}
	}
}

// logSink bridges link events into the structured logger.
type logSink struct {
	log logging.Logger
}

func (s *logSink) Publish(e core.Event) {
	fields := make([]logging.Field, 0, len(e.Attrs)+1)
	fields = append(fields, logging.String("event_type", string(e.Type)))
	for k, v := range e.Attrs {
		fields = append(fields, logging.String(k, v))
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	s.log.Info(context.Background(), msg, fields...)
}
