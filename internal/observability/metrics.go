package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// EditorCollector bundles Prometheus metrics for the command surface and
// the loaded models, and provides helpers to wire them into gRPC servers
// and HTTP handlers.
type EditorCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Commands         *prometheus.CounterVec
	CommandDurations *prometheus.HistogramVec

	ModelAssets      *prometheus.GaugeVec
	ModelPorts       *prometheus.GaugeVec
	ModelConnections *prometheus.GaugeVec
	ModelCarriers    *prometheus.GaugeVec
	ActiveModels     prometheus.Gauge
}

// NewEditorCollector registers editor metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEditorCollector(reg prometheus.Registerer) (*EditorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_rpc_requests_total",
		Help: "Total number of handled editor RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "editor_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editor_rpc_duration_seconds",
		Help:    "Editor RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "editor_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_commands_total",
		Help: "Editor commands by name and result (ok, error).",
	}, []string{"cmd", "result"}), "editor_commands_total")
	if err != nil {
		return nil, err
	}
	cmdDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editor_command_duration_seconds",
		Help:    "Time spent executing one editor command, including the projection update.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"cmd"}), "editor_command_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauge := func(name, help string) (*prometheus.GaugeVec, error) {
		return registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, []string{"model_id"}), name)
	}
	assets, err := gauge("model_assets", "Current number of assets in a loaded model.")
	if err != nil {
		return nil, err
	}
	ports, err := gauge("model_ports", "Current number of ports in a loaded model.")
	if err != nil {
		return nil, err
	}
	conns, err := gauge("model_connections", "Current number of port connections in a loaded model.")
	if err != nil {
		return nil, err
	}
	carriers, err := gauge("model_carriers", "Current number of carriers in a loaded model.")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "editor_active_models",
		Help: "Number of models held in the session registry.",
	}), "editor_active_models")
	if err != nil {
		return nil, err
	}

	return &EditorCollector{
		gatherer:         gatherer,
		RPCRequests:      requests,
		RPCDurations:     durations,
		Commands:         commands,
		CommandDurations: cmdDurations,
		ModelAssets:      assets,
		ModelPorts:       ports,
		ModelConnections: conns,
		ModelCarriers:    carriers,
		ActiveModels:     active,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *EditorCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor records stream counts and lifetimes.
func (c *EditorCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, start)
		return err
	}
}

func (c *EditorCollector) observeRPC(fullMethod string, err error, start time.Time) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()

	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// ObserveCommand records one executed command.
func (c *EditorCollector) ObserveCommand(cmd string, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.Commands != nil {
		c.Commands.WithLabelValues(cmd, result).Inc()
	}
	if c.CommandDurations != nil {
		c.CommandDurations.WithLabelValues(cmd).Observe(d.Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EditorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetModelCounts drives the per-model gauges. All-zero counts remove the
// model's series, which is how evicted models disappear.
func (c *EditorCollector) SetModelCounts(modelID string, assets, ports, connections, carriers int) {
	if c == nil {
		return
	}
	vecs := []*prometheus.GaugeVec{c.ModelAssets, c.ModelPorts, c.ModelConnections, c.ModelCarriers}
	if assets == 0 && ports == 0 && connections == 0 && carriers == 0 {
		for _, v := range vecs {
			if v != nil {
				v.DeleteLabelValues(modelID)
			}
		}
		return
	}
	for i, n := range []int{assets, ports, connections, carriers} {
		if vecs[i] != nil {
			vecs[i].WithLabelValues(modelID).Set(float64(n))
		}
	}
}

// SetActiveModels updates the session registry gauge.
func (c *EditorCollector) SetActiveModels(n int) {
	if c == nil || c.ActiveModels == nil {
		return
	}
	c.ActiveModels.Set(float64(n))
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register returns the collector already registered under name when
// there is one of the same type, so two collectors can share a registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	return register(reg, gauge, name)
}
