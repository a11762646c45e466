package commands

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/protocol/agentwire"
	"github.com/danmuck/probectl/internal/testutil/testlog"
)

type stubFinder map[string]boot.Service

func (f stubFinder) Find(kind string) boot.Service {
	return f[kind]
}

type recordingExecutor struct {
	mu      sync.Mutex
	serials []string
	err     error
}

func (e *recordingExecutor) Execute(cmd agentwire.BaseCommand) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.serials = append(e.serials, cmd.SerialNumber())
	return e.err
}

func (e *recordingExecutor) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.serials))
	copy(out, e.serials)
	return out
}

func discoveryCommand(serial, uuid string) agentwire.Command {
	return agentwire.ConfigurationDiscoveryCommand{Serial: serial, UUID: uuid}.Serialize()
}

func newTestService(t *testing.T, executor Executor) (*Service, *ExecutorService) {
	t.Helper()
	cfg := config.Default()
	executors := NewExecutorService()
	if executor != nil {
		if err := executors.RegisterExecutor(agentwire.ConfigurationDiscoveryCommandName, executor); err != nil {
			t.Fatalf("register executor: %v", err)
		}
	}
	svc := NewService(&cfg, stubFinder{ExecutorKind: executors})
	return svc, executors
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReceiveDropsDuplicateSerialInBatch(t *testing.T) {
	testlog.Start(t)
	executor := &recordingExecutor{}
	svc, _ := newTestService(t, executor)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = svc.Shutdown() }()

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{
		discoveryCommand("sX", "u1"),
		discoveryCommand("sX", "u2"),
	}})

	waitFor(t, "first dispatch", func() bool { return len(executor.seen()) >= 1 })
	// The duplicate raced the first execution at the intake gate or the
	// dequeue gate; either way exactly one dispatch happens.
	time.Sleep(50 * time.Millisecond)
	if got := executor.seen(); len(got) != 1 || got[0] != "sX" {
		t.Fatalf("expected single dispatch of sX, got %v", got)
	}
}

func TestReceiveDropsSerialAlreadyExecuted(t *testing.T) {
	testlog.Start(t)
	executor := &recordingExecutor{}
	svc, _ := newTestService(t, executor)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = svc.Shutdown() }()

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{discoveryCommand("s1", "u1")}})
	waitFor(t, "dispatch", func() bool { return len(executor.seen()) == 1 })

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{discoveryCommand("s1", "u1")}})
	time.Sleep(50 * time.Millisecond)
	if got := executor.seen(); len(got) != 1 {
		t.Fatalf("expected re-sent serial dropped, got %v", got)
	}
}

func TestReceiveSkipsUnsupportedCommandAndKeepsBatch(t *testing.T) {
	testlog.Start(t)
	executor := &recordingExecutor{}
	svc, _ := newTestService(t, executor)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = svc.Shutdown() }()

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{
		{Command: "ProfileTaskCommand"},
		discoveryCommand("s2", "u1"),
	}})
	waitFor(t, "dispatch of supported command", func() bool { return len(executor.seen()) == 1 })
	if got := executor.seen(); got[0] != "s2" {
		t.Fatalf("expected s2 dispatched, got %v", got)
	}
}

func TestReceiveDropsOnQueueOverflow(t *testing.T) {
	testlog.Start(t)
	// No worker running: the queue fills and the overflow is dropped.
	svc, _ := newTestService(t, &recordingExecutor{})

	batch := &agentwire.Commands{}
	for i := 0; i < QueueCapacity+8; i++ {
		batch.Commands = append(batch.Commands, discoveryCommand(fmt.Sprintf("s%d", i), "u"))
	}
	svc.Receive(batch)
	if got := svc.QueueDepth(); got != QueueCapacity {
		t.Fatalf("queue depth got=%d want=%d", got, QueueCapacity)
	}
}

func TestDispatchCachesSerialEvenWhenExecutorFails(t *testing.T) {
	testlog.Start(t)
	executor := &recordingExecutor{err: fmt.Errorf("executor boom")}
	svc, _ := newTestService(t, executor)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = svc.Shutdown() }()

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{discoveryCommand("s1", "u1")}})
	waitFor(t, "failed dispatch cached", func() bool { return svc.cache.Contains("s1") })

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{discoveryCommand("s1", "u1")}})
	time.Sleep(50 * time.Millisecond)
	if got := executor.seen(); len(got) != 1 {
		t.Fatalf("expected one execution despite executor error, got %v", got)
	}
}

func TestDispatchWithoutExecutorDoesNotCacheSerial(t *testing.T) {
	testlog.Start(t)
	svc, _ := newTestService(t, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = svc.Shutdown() }()

	svc.Receive(&agentwire.Commands{Commands: []agentwire.Command{discoveryCommand("s1", "u1")}})
	waitFor(t, "queue drained", func() bool { return svc.QueueDepth() == 0 })
	time.Sleep(20 * time.Millisecond)
	if svc.cache.Contains("s1") {
		t.Fatalf("dispatch failure must not cache the serial")
	}
}

func TestExecutorServiceDuplicateRegistrationFails(t *testing.T) {
	testlog.Start(t)
	executors := NewExecutorService()
	noop := ExecutorFunc(func(agentwire.BaseCommand) error { return nil })
	if err := executors.RegisterExecutor("k", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := executors.RegisterExecutor("k", noop); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
