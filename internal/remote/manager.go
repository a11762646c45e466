package remote

import (
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/tools"
)

// Kind identifies the channel manager in the boot registry.
const Kind = "grpc-channel-manager"

// ChannelManager keeps one managed channel to the collector fleet alive,
// detects disconnection, rebuilds on another endpoint, and broadcasts
// transitions to listeners.
type ChannelManager struct {
	cfg *config.AgentConfig

	channel   atomic.Pointer[Channel]
	reconnect atomic.Bool
	listeners listenerList

	// Worker-owned state. Touched only by Start and the check tick.
	servers        []string
	selectedIdx    int
	reconnectCount int
	uplinkEnabled  bool
	task           *tools.PeriodicTask

	rng          *rand.Rand
	buildChannel func(target string) (*Channel, error)
	probeReady   func(ch *Channel, requestConnection bool) bool
	resolveHost  func(host string) ([]string, error)
}

func NewChannelManager(cfg *config.AgentConfig) *ChannelManager {
	m := &ChannelManager{
		cfg:         cfg,
		selectedIdx: -1,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.reconnect.Store(true)
	m.buildChannel = m.defaultBuildChannel
	m.probeReady = (*Channel).Ready
	m.resolveHost = net.LookupHost
	return m
}

func (m *ChannelManager) Kind() string {
	return Kind
}

func (m *ChannelManager) Priority() int {
	return 10
}

func (m *ChannelManager) Prepare() error {
	return nil
}

func (m *ChannelManager) Start() error {
	servers := m.cfg.Collector.Servers()
	if len(servers) == 0 {
		log.Error().Msg("collector backend addresses are not set")
		log.Error().Msg("agent will not uplink any data")
		return nil
	}
	m.servers = servers
	m.uplinkEnabled = true
	m.task = &tools.PeriodicTask{
		Name:      "channel-check",
		Interval:  m.cfg.Collector.ChannelCheckInterval(),
		Immediate: true,
	}
	m.task.Start(m.tick)
	return nil
}

func (m *ChannelManager) OnComplete() error {
	return nil
}

func (m *ChannelManager) Shutdown() error {
	if m.task != nil {
		m.task.Stop()
	}
	if ch := m.channel.Load(); ch != nil {
		ch.Shutdown()
	}
	log.Debug().Msg("collector channel manager shut down")
	return nil
}

// AddListener registers a status listener. Notification order is
// registration order.
func (m *ChannelManager) AddListener(listener Listener) {
	m.listeners.Add(listener)
}

// Conn returns the current decorated connection, or nil before the first
// successful build.
func (m *ChannelManager) Conn() grpc.ClientConnInterface {
	ch := m.channel.Load()
	if ch == nil {
		return nil
	}
	return ch.Conn()
}

// ReportError flips the channel to disconnect when err is a network-class
// call failure; all other errors leave the state unchanged.
func (m *ChannelManager) ReportError(err error) {
	if !isNetworkError(err) {
		return
	}
	m.reconnect.Store(true)
	m.notify(Disconnect)
}

func (m *ChannelManager) tick() {
	log.Debug().Bool("reconnect", m.reconnect.Load()).Msg("channel check tick")
	if m.cfg.Collector.ResolveDNSPeriodically && m.reconnect.Load() {
		m.refreshServers()
	}
	if !m.reconnect.Load() || len(m.servers) == 0 {
		return
	}

	index := m.rng.Intn(len(m.servers))
	if index != m.selectedIdx {
		m.selectedIdx = index
		server := m.servers[index]
		if old := m.channel.Load(); old != nil {
			old.Shutdown()
		}
		ch, err := m.buildChannel(server)
		if err != nil {
			log.Error().Err(err).Str("server", server).Msg("create channel failed")
			return
		}
		m.channel.Store(ch)
		observability.RecordChannelRebuild(m.cfg.ServiceName, server)
		m.notify(Connected)
		m.reconnectCount = 0
		m.reconnect.Store(false)
		return
	}

	// Same endpoint drawn again. gRPC reconnects to the same server on its
	// own; probe readiness and force a connect attempt once the counter
	// crosses the configured threshold.
	ch := m.channel.Load()
	if ch == nil {
		return
	}
	m.reconnectCount++
	if m.probeReady(ch, m.reconnectCount > m.cfg.Collector.ForceReconnectionPeriod) {
		m.reconnectCount = 0
		m.notify(Connected)
		m.reconnect.Store(false)
	}
}

// refreshServers re-expands the first configured endpoint into one
// addr:port entry per resolved address.
func (m *ChannelManager) refreshServers() {
	configured := m.cfg.Collector.Servers()
	if len(configured) == 0 {
		return
	}
	host, port, err := net.SplitHostPort(configured[0])
	if err != nil {
		log.Error().Err(err).Str("endpoint", configured[0]).Msg("DNS refresh skipped, endpoint not host:port")
		return
	}
	addrs, err := m.resolveHost(host)
	if err != nil {
		log.Error().Err(err).Str("host", host).Msg("failed to resolve backend service")
		return
	}
	servers := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		servers = append(servers, net.JoinHostPort(addr, port))
	}
	m.servers = servers
}

func (m *ChannelManager) defaultBuildChannel(target string) (*Channel, error) {
	builders := BuildersFor(m.cfg.Collector)
	decorators := []ChannelDecorator{
		AgentInstanceDecorator(m.cfg.InstanceName),
		AuthenticationDecorator(m.cfg.Collector.Authentication),
	}
	return NewChannel(target, builders, decorators)
}

func (m *ChannelManager) notify(s Status) {
	observability.RecordChannelState(m.cfg.ServiceName, s == Connected)
	for _, listener := range m.listeners.Snapshot() {
		l := listener
		tools.Guarded("channel-notify", func() {
			l.StatusChanged(s)
		})
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch s.Code() {
	case codes.Unavailable, codes.PermissionDenied, codes.Unauthenticated,
		codes.ResourceExhausted, codes.Unknown:
		return true
	default:
		return false
	}
}
