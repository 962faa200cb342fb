// Meshtastic BLE bridge
// Keeps a BLE link to a Meshtastic radio, records mesh traffic and serves it
// over REST, Server-Sent Events and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/anthonybo/meshtastic-dashboard/internal/config"
	"github.com/anthonybo/meshtastic-dashboard/internal/handlers"
	"github.com/anthonybo/meshtastic-dashboard/internal/jobs"
	"github.com/anthonybo/meshtastic-dashboard/internal/logging"
	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
	"github.com/anthonybo/meshtastic-dashboard/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "meshbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("meshbridge starting", "device", cfg.Device.Name, "db", cfg.Store.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := mesh.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// Store
	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Event core
	bus := mesh.NewBus(cfg.Mesh.EventQueue, logger, metrics)
	bus.Subscribe("store", st.Record)
	bus.Subscribe("systemd", systemdStatus(logger))

	dialer := radio.BLEDialer{
		Adapter: cfg.Device.Adapter,
		Options: radio.Options{
			ConfigTimeout:   cfg.Device.ConfigTimeout,
			ResponseTimeout: cfg.Mesh.TracerouteHopWait,
			Logger:          logger.With("component", "radio"),
		},
	}
	sup := mesh.NewSupervisor(
		mesh.DialerFunc(func(ctx context.Context, address string, h radio.Handlers) (mesh.Radio, error) {
			ifc, err := dialer.Dial(ctx, address, h)
			if err != nil {
				return nil, err
			}
			return ifc, nil
		}),
		radio.NewDiscovery(cfg.Device.Name, logger),
		bus,
		mesh.Options{
			Device:             cfg.Device.Name,
			ConnectTimeout:     cfg.Device.ConnectTimeout,
			CloseTimeout:       cfg.Device.CloseTimeout,
			ScanTimeout:        cfg.Device.ScanTimeout,
			SettleDelay:        cfg.Device.SettleDelay,
			ReconnectAttempts:  cfg.Reconnect.MaxAttempts,
			ReconnectBaseDelay: cfg.Reconnect.BaseDelay,
			AckTimeout:         cfg.Mesh.AckTimeout,
			Logger:             logger,
			Metrics:            metrics,
		},
	)

	// Scheduled maintenance
	sched := jobs.New(logger)
	if err := sched.Add("node-sync", cfg.Store.NodeSync, time.Minute, jobs.NodeSync(sup, st, logger)); err != nil {
		return err
	}
	if err := sched.Add("ack-sweep", cfg.Store.AckSweep, 0, jobs.AckSweep(sup, logger)); err != nil {
		return err
	}

	// HTTP
	h := handlers.NewBridgeHandler(sup, st, bus, handlers.Options{
		BroadcastRate: rate.Limit(cfg.Mesh.BroadcastAllPerSec),
		HistoryLimit:  cfg.Store.HistoryLimit,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Logger:        logger,
	})
	r := chi.NewRouter()
	handlers.SetupRoutes(r, h, promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: event streams and connect attempts outlive it.
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return runWatchdog(gctx, logger) })
	g.Go(func() error {
		logger.Info("bridge listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	sdNotify(logger, daemon.SdNotifyReady)

	if cfg.Device.AutoConnect {
		go func() {
			res := sup.Connect(gctx)
			if !res.OK {
				logger.Warn("auto-connect failed", "error", res.Detail)
				return
			}
			if _, err := st.SyncNodes(gctx, sup.Nodes()); err != nil {
				logger.Warn("initial node sync failed", "error", err)
			}
		}()
	}

	err = g.Wait()

	logger.Info("shutting down")
	sdNotify(logger, daemon.SdNotifyStopping)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if res := sup.Close(closeCtx); res.CloseFailed {
		logger.Warn("device close timed out", "detail", res.Detail)
	}

	logger.Info("meshbridge stopped")
	return err
}
