package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RailCollector bundles the simulator's Prometheus metrics. It satisfies the
// clock and safety arbiter recorder interfaces and instruments the state RPC
// server.
type RailCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	ClockTicks      prometheus.Counter
	SimTime         prometheus.Gauge
	Acceleration    prometheus.Gauge
	PublishFailures prometheus.Counter
	PublishHealthy  prometheus.Gauge

	ArbiterBraking *prometheus.GaugeVec
	BrakeCommands  *prometheus.CounterVec
	AuditEvents    *prometheus.CounterVec
	AuditDropped   prometheus.Counter

	BeaconUpdates *prometheus.CounterVec
}

// NewRailCollector registers simulator metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewRailCollector(reg prometheus.Registerer) (*RailCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &RailCollector{gatherer: gatherer}

	var err error
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_rpc_requests_total",
		Help: "Handled state RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "railsim_rpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railsim_rpc_request_duration_seconds",
		Help:    "State RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"service", "method"}), "railsim_rpc_request_duration_seconds"); err != nil {
		return nil, err
	}

	if c.ClockTicks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railsim_clock_ticks_total",
		Help: "Simulated seconds applied by the clock.",
	}), "railsim_clock_ticks_total"); err != nil {
		return nil, err
	}
	if c.SimTime, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railsim_clock_sim_time_seconds",
		Help: "Current simulated time as seconds since the Unix epoch.",
	}), "railsim_clock_sim_time_seconds"); err != nil {
		return nil, err
	}
	if c.Acceleration, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railsim_clock_acceleration",
		Help: "Simulated seconds per real second.",
	}), "railsim_clock_acceleration"); err != nil {
		return nil, err
	}
	if c.PublishFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railsim_clock_publish_failures_total",
		Help: "Failed writes of the shared time slot.",
	}), "railsim_clock_publish_failures_total"); err != nil {
		return nil, err
	}
	if c.PublishHealthy, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railsim_clock_publish_healthy",
		Help: "1 while the shared time slot is being updated, 0 while degraded to local time.",
	}), "railsim_clock_publish_healthy"); err != nil {
		return nil, err
	}

	if c.ArbiterBraking, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "railsim_arbiter_braking",
		Help: "1 while a train's safety arbiter is in BRAKING.",
	}, []string{"train"}), "railsim_arbiter_braking"); err != nil {
		return nil, err
	}
	if c.BrakeCommands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_arbiter_brake_commands_total",
		Help: "Emergency brake commands issued by safety arbiters.",
	}, []string{"train", "action"}), "railsim_arbiter_brake_commands_total"); err != nil {
		return nil, err
	}
	if c.AuditEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_audit_events_total",
		Help: "Safety audit events emitted, by kind.",
	}, []string{"kind"}), "railsim_audit_events_total"); err != nil {
		return nil, err
	}
	if c.AuditDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railsim_audit_dropped_total",
		Help: "Safety audit events dropped because the persistence queue was full.",
	}), "railsim_audit_dropped_total"); err != nil {
		return nil, err
	}

	if c.BeaconUpdates, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railsim_beacon_updates_total",
		Help: "Beacon writes against track blocks, by result.",
	}, []string{"result"}), "railsim_beacon_updates_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *RailCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RailCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick implements timectrl.Metrics.
func (c *RailCollector) ObserveTick(simTime time.Time) {
	if c == nil {
		return
	}
	c.ClockTicks.Inc()
	c.SimTime.Set(float64(simTime.UnixNano()) / 1e9)
}

// ObserveAcceleration implements timectrl.Metrics.
func (c *RailCollector) ObserveAcceleration(factor float64) {
	if c == nil {
		return
	}
	c.Acceleration.Set(factor)
}

// ObservePublish implements timectrl.Metrics.
func (c *RailCollector) ObservePublish(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.PublishFailures.Inc()
		c.PublishHealthy.Set(0)
		return
	}
	c.PublishHealthy.Set(1)
}

// ObserveArbiterState implements safety.Recorder.
func (c *RailCollector) ObserveArbiterState(trainID string, braking bool) {
	if c == nil {
		return
	}
	v := 0.0
	if braking {
		v = 1
	}
	c.ArbiterBraking.WithLabelValues(trainID).Set(v)
}

// ObserveBrakeCommand implements safety.Recorder.
func (c *RailCollector) ObserveBrakeCommand(trainID string, engage bool) {
	if c == nil {
		return
	}
	action := "release"
	if engage {
		action = "engage"
	}
	c.BrakeCommands.WithLabelValues(trainID, action).Inc()
}

// ObserveAuditEvent implements safety.Recorder.
func (c *RailCollector) ObserveAuditEvent(kind string) {
	if c == nil {
		return
	}
	c.AuditEvents.WithLabelValues(kind).Inc()
}

// IncAuditDropped counts one audit event lost to a full queue.
func (c *RailCollector) IncAuditDropped() {
	if c == nil {
		return
	}
	c.AuditDropped.Inc()
}

// ObserveBeaconUpdate counts an accepted or rejected beacon write.
func (c *RailCollector) ObserveBeaconUpdate(accepted bool) {
	if c == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	c.BeaconUpdates.WithLabelValues(result).Inc()
}
