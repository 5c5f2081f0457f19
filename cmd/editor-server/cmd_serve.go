package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/energy-network-editor/internal/config"
	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/internal/emitter"
	"github.com/signalsfoundry/energy-network-editor/internal/journal"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/internal/nbi"
	"github.com/signalsfoundry/energy-network-editor/internal/observability"
)

func serveCmd() *cobra.Command {
	var grpcAddr, httpAddr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editor gRPC, websocket and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("grpc-addr") {
				cfg.Server.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Server.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Server.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, newLogger(), listeners{})
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "TCP address the gRPC server listens on")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP address for the websocket and health endpoints")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	return cmd
}

// listeners lets tests pass pre-bound sockets. A nil listener is opened
// from the configured address; an empty address disables the server.
type listeners struct {
	grpc     net.Listener
	http     net.Listener
	metrics  net.Listener
	registry *prometheus.Registry
}

// run serves until ctx is cancelled, then shuts everything down.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, ls listeners) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if ls.registry != nil {
		reg = ls.registry
	}
	collector, err := observability.NewEditorCollector(reg)
	if err != nil {
		return fmt.Errorf("editor metrics: %w", err)
	}
	syncMetrics, err := observability.NewSyncCollector(reg)
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	broker := emitter.NewBroker(
		emitter.WithBrokerLogger(log),
		emitter.WithBrokerMetrics(syncMetrics),
	)
	defer broker.Close()

	registry := state.NewRegistry(
		state.WithCapacity(cfg.Sessions.Capacity),
		state.WithTTL(cfg.Sessions.TTL),
		state.WithRegistryLogger(log),
		state.WithRegistryMetrics(collector),
		state.WithModelOptions(state.WithLogger(log)),
	)

	opts := []nbi.DispatcherOption{
		nbi.WithDispatcherLogger(log),
		nbi.WithCommandMetrics(collector),
		nbi.WithDeltaMetrics(syncMetrics),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, nbi.WithJournal(j))
		log.Info(ctx, "command journal enabled", logging.String("path", cfg.Journal.Path))
	}
	dispatcher := nbi.NewDispatcher(registry, broker, opts...)

	grpcLis, err := listen(ls.grpc, cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := listen(ls.http, cfg.Server.HTTPAddr)
	if err != nil {
		closeAll(grpcLis)
		return err
	}
	metricsLis, err := listen(ls.metrics, cfg.Server.MetricsAddr)
	if err != nil {
		closeAll(grpcLis, httpLis)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if grpcLis != nil {
		server := grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.ChainUnaryInterceptor(
				nbi.RequestIDUnaryServerInterceptor(log),
				nbi.TracingUnaryServerInterceptor(),
				collector.UnaryServerInterceptor(),
			),
			grpc.ChainStreamInterceptor(
				nbi.RequestIDStreamServerInterceptor(log),
				nbi.TracingStreamServerInterceptor(),
				collector.StreamServerInterceptor(),
			),
		)
		nbi.RegisterEditorServiceServer(server, nbi.NewEditorService(dispatcher, broker, log))

		g.Go(func() error {
			log.Info(ctx, "starting editor gRPC server", logging.String("addr", grpcLis.Addr().String()))
			return server.Serve(grpcLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			broker.Close()
			server.GracefulStop()
			return nil
		})
	}

	if httpLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", emitter.NewHandler(broker, dispatcher, log))
		mux.HandleFunc("/healthz", healthHandler(registry))
		serveHTTP(ctx, g, gctx, "websocket", httpLis, mux, log)
	}

	if metricsLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		serveHTTP(ctx, g, gctx, "metrics", metricsLis, mux, log)
	}

	err = g.Wait()
	log.Info(context.Background(), "editor server stopped")
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func listen(lis net.Listener, addr string) (net.Listener, error) {
	if lis != nil {
		return lis, nil
	}
	if addr == "" {
		return nil, nil
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return l, nil
}

func closeAll(ls ...net.Listener) {
	for _, l := range ls {
		if l != nil {
			_ = l.Close()
		}
	}
}

func serveHTTP(ctx context.Context, g *errgroup.Group, gctx context.Context, name string, lis net.Listener, h http.Handler, log logging.Logger) {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.Info(ctx, "starting http server", logging.String("server", name), logging.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func healthHandler(registry *state.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"models": registry.IDs(),
		})
	}
}
