package commands

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/protocol/agentwire"
	"github.com/danmuck/probectl/internal/tools"
)

// Kind identifies the command scheduler in the boot registry.
const Kind = "command-scheduler"

// QueueCapacity bounds the pending-command queue. Overflowing commands are
// dropped, never blocked on.
const QueueCapacity = 64

// Service queues collector commands and dispatches them to per-kind
// executors on a single worker. Duplicate serial numbers are suppressed at
// intake and again at dequeue.
type Service struct {
	cfg  *config.AgentConfig
	deps boot.Finder

	queue chan agentwire.BaseCommand
	cache *SerialNumberCache

	started bool
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewService(cfg *config.AgentConfig, deps boot.Finder) *Service {
	return &Service{
		cfg:   cfg,
		deps:  deps,
		queue: make(chan agentwire.BaseCommand, QueueCapacity),
		cache: NewSerialNumberCache(DefaultCacheCapacity),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (s *Service) Kind() string {
	return Kind
}

func (s *Service) Priority() int {
	return 20
}

func (s *Service) Prepare() error {
	return nil
}

func (s *Service) Start() error {
	s.started = true
	go s.run()
	return nil
}

func (s *Service) OnComplete() error {
	return nil
}

func (s *Service) Shutdown() error {
	if !s.started {
		return nil
	}
	s.once.Do(func() { close(s.quit) })
	<-s.done
	// Drain whatever intake raced the shutdown.
	for {
		select {
		case <-s.queue:
		default:
			return nil
		}
	}
}

// QueueDepth reports the number of commands waiting for dispatch.
func (s *Service) QueueDepth() int {
	return len(s.queue)
}

// Receive ingests a command batch fresh off the wire. Unknown kinds,
// duplicate serials, and queue overflow drop the offending command and keep
// the rest of the batch going.
func (s *Service) Receive(batch *agentwire.Commands) {
	if batch == nil {
		return
	}
	for _, wire := range batch.Commands {
		cmd, err := agentwire.Deserialize(wire)
		if err != nil {
			log.Warn().Err(err).Str("command", wire.Command).Msg("received unsupported command")
			observability.RecordCommandDropped(s.cfg.ServiceName, "unsupported")
			continue
		}
		if s.cache.Contains(cmd.SerialNumber()) {
			log.Warn().Str("command", cmd.Command()).Str("serial", cmd.SerialNumber()).
				Msg("command already executed, ignored")
			observability.RecordCommandDropped(s.cfg.ServiceName, "duplicate")
			continue
		}
		select {
		case s.queue <- cmd:
		default:
			log.Warn().Str("command", cmd.Command()).Str("serial", cmd.SerialNumber()).
				Msg("command queue is full, command dropped")
			observability.RecordCommandDropped(s.cfg.ServiceName, "overflow")
		}
	}
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case cmd := <-s.queue:
			tools.Guarded("command-dispatch", func() {
				s.dispatch(cmd)
			})
		}
	}
}

func (s *Service) dispatch(cmd agentwire.BaseCommand) {
	// A duplicate may have been queued before its twin's serial was cached.
	if s.cache.Contains(cmd.SerialNumber()) {
		log.Debug().Str("command", cmd.Command()).Str("serial", cmd.SerialNumber()).
			Msg("command already executed, skipped at dequeue")
		return
	}
	executors := s.executorService()
	if executors == nil {
		log.Error().Str("command", cmd.Command()).Msg("executor service unavailable")
		return
	}
	if err := executors.Execute(cmd); err != nil {
		if errors.Is(err, ErrNoExecutor) {
			log.Error().Err(err).Str("command", cmd.Command()).Msg("command dispatch failed")
			return
		}
		log.Error().Err(err).Str("command", cmd.Command()).Msg("command executor failed")
	}
	s.cache.Add(cmd.SerialNumber())
	observability.RecordCommandDispatched(s.cfg.ServiceName, cmd.Command())
}

func (s *Service) executorService() *ExecutorService {
	svc := s.deps.Find(ExecutorKind)
	if svc == nil {
		return nil
	}
	executors, ok := svc.(*ExecutorService)
	if !ok {
		return nil
	}
	return executors
}
