package dynamic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/commands"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/protocol/agentwire"
	"github.com/danmuck/probectl/internal/remote"
	"github.com/danmuck/probectl/internal/tools"
)

// Kind identifies the configuration discovery service in the boot registry.
const Kind = "configuration-discovery"

var (
	ErrDuplicateWatcher = errors.New("dynamic: duplicate watcher registration")
	ErrChannelManager   = errors.New("dynamic: channel manager unavailable")
	ErrExecutorService  = errors.New("dynamic: executor service unavailable")
)

// Service polls the collector for the versioned configuration set and fans
// observed changes out to registered watchers.
type Service struct {
	cfg  *config.AgentConfig
	deps boot.Finder

	mu       sync.RWMutex
	watchers map[string]Watcher
	keys     []string
	cursor   string
	client   agentwire.ConfigurationDiscoveryClient

	// lastWatcherCount is touched only by the poll worker.
	lastWatcherCount int

	status  atomic.Int32
	manager *remote.ChannelManager
	task    *tools.PeriodicTask
}

func NewService(cfg *config.AgentConfig, deps boot.Finder) *Service {
	return &Service{
		cfg:      cfg,
		deps:     deps,
		watchers: make(map[string]Watcher),
	}
}

func (s *Service) Kind() string {
	return Kind
}

func (s *Service) Priority() int {
	return 30
}

// Prepare hooks the service into the channel manager and registers the
// discovery executor with the command executor registry.
func (s *Service) Prepare() error {
	svc := s.deps.Find(remote.Kind)
	manager, ok := svc.(*remote.ChannelManager)
	if !ok {
		return ErrChannelManager
	}
	s.manager = manager
	manager.AddListener(s)

	executorSvc := s.deps.Find(commands.ExecutorKind)
	executors, ok := executorSvc.(*commands.ExecutorService)
	if !ok {
		return ErrExecutorService
	}
	return executors.RegisterExecutor(
		agentwire.ConfigurationDiscoveryCommandName,
		commands.ExecutorFunc(s.executeCommand),
	)
}

func (s *Service) Start() error {
	s.task = &tools.PeriodicTask{
		Name:     "dynamic-config-sync",
		Interval: s.cfg.Collector.DynamicConfigInterval(),
	}
	s.task.Start(s.sync)
	return nil
}

func (s *Service) OnComplete() error {
	return nil
}

func (s *Service) Shutdown() error {
	if s.task != nil {
		s.task.Stop()
	}
	return nil
}

// StatusChanged tracks the channel state and rebinds the discovery stub to
// the current decorated connection.
func (s *Service) StatusChanged(status remote.Status) {
	s.mu.Lock()
	if status == remote.Connected {
		s.client = agentwire.NewConfigurationDiscoveryClient(s.manager.Conn())
	} else {
		s.client = nil
	}
	s.mu.Unlock()
	s.status.Store(int32(status))
}

// Register inserts watcher under its property key. Registering the same key
// twice is a caller bug and fails. Late registration (after boot) is
// supported; the next poll drops the cursor so the server answers in full.
func (s *Service) Register(watcher Watcher) error {
	key := watcher.PropertyKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateWatcher, key)
	}
	s.watchers[key] = watcher
	s.keys = append(s.keys, key)
	return nil
}

// WatchedKeys returns the registered property keys in registration order.
func (s *Service) WatchedKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// sync is one poll tick: skip unless connected, reset the cursor when the
// watcher set grew, then fetch and hand the batch to the scheduler.
func (s *Service) sync() {
	if remote.Status(s.status.Load()) != remote.Connected {
		return
	}
	req, client := s.buildRequest()
	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Collector.UpstreamTimeout())
	defer cancel()
	batch, err := client.FetchConfigurations(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("configuration sync failed")
		observability.RecordConfigSync(s.cfg.ServiceName, "error")
		s.manager.ReportError(err)
		return
	}
	observability.RecordConfigSync(s.cfg.ServiceName, "ok")

	scheduler, ok := s.deps.Find(commands.Kind).(*commands.Service)
	if !ok {
		log.Error().Msg("command scheduler unavailable, sync response dropped")
		return
	}
	scheduler.Receive(batch)
}

func (s *Service) buildRequest() (*agentwire.ConfigurationSyncRequest, agentwire.ConfigurationDiscoveryClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A watcher registered since the last tick would be invisible behind an
	// unchanged-UUID short-circuit; drop the cursor to force a full answer.
	if n := len(s.keys); n != s.lastWatcherCount {
		s.cursor = ""
		s.lastWatcherCount = n
	}
	req := &agentwire.ConfigurationSyncRequest{
		Service: s.cfg.ServiceName,
		UUID:    s.cursor,
	}
	return req, s.client
}

func (s *Service) executeCommand(cmd agentwire.BaseCommand) error {
	discovery, ok := cmd.(agentwire.ConfigurationDiscoveryCommand)
	if !ok {
		return fmt.Errorf("dynamic: unexpected command type %q", cmd.Command())
	}
	s.HandleCommand(discovery)
	return nil
}

// HandleCommand applies one configuration set: diff every registered key
// against its watcher's current value and notify on transitions. A set with
// the already-observed UUID is a no-op.
func (s *Service) HandleCommand(cmd agentwire.ConfigurationDiscoveryCommand) {
	s.mu.RLock()
	sameCursor := cmd.UUID != "" && cmd.UUID == s.cursor
	s.mu.RUnlock()
	if sameCursor {
		return
	}

	for _, pair := range s.effectiveConfig(cmd.Config) {
		s.applyEntry(pair)
	}

	s.mu.Lock()
	s.cursor = cmd.UUID
	s.mu.Unlock()
}

// effectiveConfig reifies deletions: every registered key appears exactly
// once, with an empty value when the collector no longer carries it.
func (s *Service) effectiveConfig(incoming []agentwire.KeyStringValuePair) []agentwire.KeyStringValuePair {
	byKey := make(map[string]agentwire.KeyStringValuePair, len(incoming))
	for _, pair := range incoming {
		byKey[pair.Key] = pair
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentwire.KeyStringValuePair, 0, len(s.keys))
	for _, key := range s.keys {
		if pair, ok := byKey[key]; ok {
			out = append(out, pair)
		} else {
			out = append(out, agentwire.KeyStringValuePair{Key: key})
		}
	}
	return out
}

func (s *Service) applyEntry(pair agentwire.KeyStringValuePair) {
	s.mu.RLock()
	watcher, ok := s.watchers[pair.Key]
	s.mu.RUnlock()
	if !ok {
		log.Warn().Str("key", pair.Key).Msg("configuration matches no watcher, ignored")
		return
	}

	switch {
	case pair.Value == "":
		if watcher.Value() != "" {
			s.notifyWatcher(watcher, Event{Kind: EventDelete})
		}
	case pair.Value != watcher.Value():
		s.notifyWatcher(watcher, Event{NewValue: pair.Value, Kind: EventModify})
	}
}

func (s *Service) notifyWatcher(watcher Watcher, event Event) {
	observability.RecordWatcherNotification(s.cfg.ServiceName, event.Kind.String())
	tools.Guarded("watcher-notify:"+watcher.PropertyKey(), func() {
		watcher.Notify(event)
	})
}
