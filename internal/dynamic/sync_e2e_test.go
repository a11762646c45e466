package dynamic

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/danmuck/probectl/internal/commands"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/protocol/agentwire"
	"github.com/danmuck/probectl/internal/remote"
	"github.com/danmuck/probectl/internal/testutil/testlog"
)

type fakeCollector struct {
	mu       sync.Mutex
	requests []agentwire.ConfigurationSyncRequest
	headers  []metadata.MD
	batch    *agentwire.Commands
}

func (f *fakeCollector) FetchConfigurations(ctx context.Context, req *agentwire.ConfigurationSyncRequest) (*agentwire.Commands, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.headers = append(f.headers, md)
	}
	return f.batch, nil
}

// TestSyncRoundTripThroughScheduler walks a full control-loop pass: the
// discovery client fetches a batch from an in-process collector over a
// decorated channel, the scheduler dedups and dispatches, and the discovery
// service diffs the payload into a watcher notification.
func TestSyncRoundTripThroughScheduler(t *testing.T) {
	testlog.Start(t)
	collector := &fakeCollector{
		batch: &agentwire.Commands{Commands: []agentwire.Command{
			agentwire.ConfigurationDiscoveryCommand{
				Serial: "s1",
				UUID:   "u1",
				Config: []agentwire.KeyStringValuePair{{Key: "agent.sample_rate", Value: "1000"}},
			}.Serialize(),
		}},
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	agentwire.RegisterConfigurationDiscoveryServer(srv, collector)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///collector",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var cc grpc.ClientConnInterface = conn
	cc = remote.AgentInstanceDecorator("inst@10.0.0.1").Decorate(cc)
	cc = remote.AuthenticationDecorator("tok-1").Decorate(cc)
	client := agentwire.NewConfigurationDiscoveryClient(cc)

	cfg := config.Default()
	cfg.ServiceName = "checkout"
	manager := remote.NewChannelManager(&cfg)
	executors := commands.NewExecutorService()
	finder := stubFinder{
		remote.Kind:           manager,
		commands.ExecutorKind: executors,
	}
	discovery := NewService(&cfg, finder)
	if err := discovery.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	w := &memoryWatcher{key: "agent.sample_rate"}
	if err := discovery.Register(w); err != nil {
		t.Fatalf("register: %v", err)
	}

	scheduler := commands.NewService(&cfg, finder)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	defer func() { _ = scheduler.Shutdown() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	batch, err := client.FetchConfigurations(ctx, &agentwire.ConfigurationSyncRequest{Service: cfg.ServiceName})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	scheduler.Receive(batch)

	// The cursor is written after all notifications for the set; observing it
	// under the lock orders the watcher reads below.
	deadline := time.Now().Add(2 * time.Second)
	synced := false
	for time.Now().Before(deadline) {
		discovery.mu.RLock()
		synced = discovery.cursor == "u1"
		discovery.mu.RUnlock()
		if synced {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !synced {
		t.Fatalf("timed out waiting for sync to apply")
	}
	if len(w.events) != 1 || w.events[0].Kind != EventModify || w.events[0].NewValue != "1000" {
		t.Fatalf("watcher events got=%+v", w.events)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.requests) != 1 || collector.requests[0].Service != "checkout" {
		t.Fatalf("collector requests got=%+v", collector.requests)
	}
	if len(collector.headers) != 1 {
		t.Fatalf("expected request headers captured")
	}
	md := collector.headers[0]
	if got := md.Get(remote.AgentInstanceHeader); len(got) != 1 || got[0] != "inst@10.0.0.1" {
		t.Fatalf("instance header got=%v", got)
	}
	if got := md.Get(remote.AuthenticationHeader); len(got) != 1 || got[0] != "tok-1" {
		t.Fatalf("auth header got=%v", got)
	}
}
