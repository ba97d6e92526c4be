package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rail-control-simulator/core"
	"github.com/signalsfoundry/rail-control-simulator/internal/audit"
	"github.com/signalsfoundry/rail-control-simulator/internal/config"
	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
	"github.com/signalsfoundry/rail-control-simulator/internal/observability"
	"github.com/signalsfoundry/rail-control-simulator/internal/railrpc"
	"github.com/signalsfoundry/rail-control-simulator/internal/timeslot"
	"github.com/signalsfoundry/rail-control-simulator/kb"
	"github.com/signalsfoundry/rail-control-simulator/model"
	"github.com/signalsfoundry/rail-control-simulator/safety"
	"github.com/signalsfoundry/rail-control-simulator/timectrl"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative clock, track store and safety arbiter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
	f := cmd.Flags()
	f.Float64("acceleration", 0, "simulated seconds per real second")
	f.String("slot", "", "shared time slot file")
	f.String("lock", "", "lock file guarding the slot (default <slot>.lock)")
	f.Bool("paused", false, "start with the clock stopped")
	f.String("train", "", "ID of the guarded train")
	f.String("layout", "", "YAML track layout to load")
	f.String("audit-db", "", "SQLite file for the safety audit trail")
	f.String("metrics-addr", "", "HTTP address for Prometheus /metrics")
	f.String("rpc-addr", "", "TCP address for the read-only state gRPC service")
	return cmd
}

// runServe blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Config, log logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewRailCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	store := kb.NewKnowledgeBase()
	unsubscribe := store.Subscribe(beaconMetrics(collector, log))
	defer unsubscribe()

	var layout *core.TrackLayout
	if cfg.Layout.Path != "" {
		if layout, err = loadLayout(store, cfg.Layout.Path); err != nil {
			return err
		}
		log.Info(ctx, "track layout loaded",
			logging.String("name", layout.Name),
			logging.Int("blocks", len(layout.BlockIDs)),
			logging.Int("active_beacons", layout.Beacons),
		)
	}

	sinks := safety.MultiSink{}
	if cfg.Audit.DBPath != "" {
		st, err := audit.Open(cfg.Audit.DBPath,
			audit.WithBuffer(cfg.Audit.Buffer),
			audit.WithLogger(log),
			audit.WithDropHook(collector.IncAuditDropped),
		)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer st.Close()
		sinks = append(sinks, st)
	}

	clockOpts := []timectrl.Option{timectrl.WithLogger(log), timectrl.WithMetrics(collector)}
	writer, err := timeslot.OpenFileWriter(cfg.Clock.SlotPath, cfg.Clock.LockPath)
	switch {
	case err == nil:
		defer writer.Close()
		clockOpts = append(clockOpts, timectrl.WithPublisher(writer))
	case errors.Is(err, timeslot.ErrSlotOwned):
		return fmt.Errorf("another process owns %s: %w", cfg.Clock.SlotPath, err)
	default:
		log.Warn(ctx, "shared time slot unavailable; collaborators will not see the clock",
			logging.String("slot", cfg.Clock.SlotPath),
			logging.Err(err),
		)
	}
	clock := timectrl.NewClock(clockOpts...)

	engine := core.NewSimulationEngine(store, log)
	train, err := engine.AddTrain(cfg.Train.ID, model.VitalState{},
		safety.WithClock(clock),
		safety.WithAuditSink(sinks),
		safety.WithLogger(log),
		safety.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	if layout != nil && len(layout.BlockIDs) > 0 {
		if err := engine.MoveTrain(ctx, train.ID, layout.BlockIDs[0]); err != nil {
			return err
		}
	}
	clock.AddListener(engine.Tick)

	metricsSrv := serveMetrics(ctx, cfg.Metrics.Addr, collector, log)
	rpcSrv, err := serveRPC(ctx, cfg.RPC.Addr, clock, store, train.Arbiter, collector, log)
	if err != nil {
		return err
	}

	if cfg.Clock.StartPaused {
		if err := clock.SetAcceleration(cfg.Clock.Acceleration); err != nil {
			return err
		}
		log.Info(ctx, "clock paused at startup")
	} else if err := clock.Start(cfg.Clock.Acceleration); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	clock.Stop()
	if rpcSrv != nil {
		rpcSrv.GracefulStop()
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// beaconMetrics counts accepted and refused beacon writes seen by the track
// store.
func beaconMetrics(collector *observability.RailCollector, log logging.Logger) func(kb.Event) {
	return func(ev kb.Event) {
		switch ev.Type {
		case kb.EventBeaconUpdated:
			collector.ObserveBeaconUpdate(true)
		case kb.EventBeaconRejected:
			collector.ObserveBeaconUpdate(false)
			log.Debug(context.Background(), "beacon write rejected",
				logging.String("block_id", ev.Block.ID),
				logging.Err(ev.Err),
			)
		}
	}
}

func loadLayout(store *kb.KnowledgeBase, path string) (*core.TrackLayout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()
	layout, err := core.LoadTrackLayout(store, f)
	if err != nil {
		return nil, fmt.Errorf("load layout %s: %w", path, err)
	}
	return layout, nil
}

func serveMetrics(ctx context.Context, addr string, collector *observability.RailCollector, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func serveRPC(ctx context.Context, addr string, clock timectrl.SimClock, store *kb.KnowledgeBase, arb *safety.Arbiter, collector *observability.RailCollector, log logging.Logger) (interface{ GracefulStop() }, error) {
	if addr == "" {
		return nil, nil
	}
	svc := railrpc.NewService(clock, store, log)
	svc.AddArbiter(arb)
	server := railrpc.NewServer(svc, log, collector)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for gRPC on %s: %w", addr, err)
	}
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving rail state gRPC", logging.String("addr", lis.Addr().String()))
	return server, nil
}
