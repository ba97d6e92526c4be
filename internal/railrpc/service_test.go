package railrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/rail-control-simulator/internal/observability"
	"github.com/signalsfoundry/rail-control-simulator/internal/timeslot"
	"github.com/signalsfoundry/rail-control-simulator/kb"
	"github.com/signalsfoundry/rail-control-simulator/model"
	"github.com/signalsfoundry/rail-control-simulator/safety"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

var simNow = time.Date(2025, time.June, 2, 9, 15, 0, 0, time.UTC)

type fixture struct {
	client    *Client
	conn      *grpc.ClientConn
	collector *observability.RailCollector
	vitals    *model.TrainVitals
	arbiter   *safety.Arbiter
}

func startServer(t *testing.T) fixture {
	t.Helper()

	track := kb.NewKnowledgeBase()
	if err := track.AddBlock(&model.TrackBlock{ID: "G1", Line: "GREEN", Length: 100, SpeedLimit: 45}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := track.PushBeaconHex("G1", "01"+strings.Repeat("00", 31)); err != nil {
		t.Fatalf("PushBeaconHex: %v", err)
	}

	vitals := model.NewTrainVitals(model.VitalState{})
	arb := safety.New("T1", vitals, model.NewEmergencyBrake())

	svc := NewService(fixedClock(simNow), track, nil)
	svc.AddArbiter(arb)

	collector, err := observability.NewRailCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRailCollector: %v", err)
	}
	server := NewServer(svc, nil, collector)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return fixture{client: NewClient(conn), conn: conn, collector: collector, vitals: vitals, arbiter: arb}
}

func TestGetSimTime(t *testing.T) {
	f := startServer(t)
	got, err := f.client.SimTime(context.Background())
	if err != nil {
		t.Fatalf("SimTime: %v", err)
	}
	if !got.Equal(simNow) {
		t.Fatalf("SimTime = %v, want %v", got, simNow)
	}
	if n := testutil.ToFloat64(f.collector.RPCRequests.WithLabelValues("RailState", "GetSimTime", "OK")); n != 1 {
		t.Fatalf("rpc counter = %v, want 1", n)
	}
}

func TestGetBeacon(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	hex, err := f.client.Beacon(ctx, "G1")
	if err != nil {
		t.Fatalf("Beacon: %v", err)
	}
	if hex != "01"+strings.Repeat("00", 31) {
		t.Fatalf("Beacon = %q", hex)
	}

	if _, err := f.client.Beacon(ctx, "nope"); status.Code(err) != codes.NotFound {
		t.Fatalf("unknown block code = %v, want NotFound", status.Code(err))
	}
	if _, err := f.client.Beacon(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("empty id code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestGetArbiter(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	st, err := f.client.Arbiter(ctx, "T1")
	if err != nil {
		t.Fatalf("Arbiter: %v", err)
	}
	if st.State != "SAFE" || st.OwnsBrake || st.TrainID != "T1" {
		t.Fatalf("status = %+v", st)
	}

	f.vitals.Set(model.VitalState{Doors: model.DoorsOpen, Speed: 2})
	f.arbiter.Evaluate(ctx)
	st, err = f.client.Arbiter(ctx, "T1")
	if err != nil {
		t.Fatalf("Arbiter: %v", err)
	}
	if st.State != "BRAKING" || !st.OwnsBrake {
		t.Fatalf("status after hazard = %+v", st)
	}

	if _, err := f.client.Arbiter(ctx, "T404"); status.Code(err) != codes.NotFound {
		t.Fatalf("unknown train code = %v, want NotFound", status.Code(err))
	}
}

func TestHealthService(t *testing.T) {
	f := startServer(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %v, want SERVING", resp.GetStatus())
	}
}

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "block not found", err: fmt.Errorf("%w: G9", kb.ErrBlockNotFound), code: codes.NotFound},
		{name: "unknown train", err: ErrUnknownTrain, code: codes.NotFound},
		{name: "invalid argument", err: ErrInvalidArgument, code: codes.InvalidArgument},
		{name: "beacon rejected", err: kb.ErrBeaconRejected, code: codes.InvalidArgument},
		{name: "slot uninitialized", err: timeslot.ErrSlotUninitialized, code: codes.Unavailable},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}

func TestServiceTrains(t *testing.T) {
	svc := NewService(fixedClock(simNow), nil, nil)
	svc.AddArbiter(safety.New("B", model.NewTrainVitals(model.VitalState{}), model.NewEmergencyBrake()))
	svc.AddArbiter(safety.New("A", model.NewTrainVitals(model.VitalState{}), model.NewEmergencyBrake()))
	svc.AddArbiter(nil)
	if got := svc.Trains(); len(got) != 2 || got[0] != "A" {
		t.Fatalf("Trains = %v", got)
	}
}
