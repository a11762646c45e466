package commands

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/protocol/agentwire"
)

// ExecutorKind identifies the executor registry in the boot registry.
const ExecutorKind = "command-executor"

var (
	ErrDuplicateExecutor = errors.New("commands: duplicate executor")
	ErrNoExecutor        = errors.New("commands: no executor for command")
)

// Executor handles one command kind.
type Executor interface {
	Execute(cmd agentwire.BaseCommand) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(cmd agentwire.BaseCommand) error

func (f ExecutorFunc) Execute(cmd agentwire.BaseCommand) error {
	return f(cmd)
}

// ExecutorService maps command kinds to executors. Executors register
// directly during boot; there is no dynamic loading.
type ExecutorService struct {
	boot.NopService

	mu        sync.RWMutex
	executors map[string]Executor
}

func NewExecutorService() *ExecutorService {
	return &ExecutorService{executors: make(map[string]Executor)}
}

func (s *ExecutorService) Kind() string {
	return ExecutorKind
}

func (s *ExecutorService) Priority() int {
	return 20
}

func (s *ExecutorService) RegisterExecutor(kind string, executor Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executors[kind]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateExecutor, kind)
	}
	s.executors[kind] = executor
	return nil
}

// Execute hands cmd to the executor registered for its kind.
func (s *ExecutorService) Execute(cmd agentwire.BaseCommand) error {
	s.mu.RLock()
	executor, ok := s.executors[cmd.Command()]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoExecutor, cmd.Command())
	}
	return executor.Execute(cmd)
}
