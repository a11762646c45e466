// Package agent assembles the runtime core from its boot services.
package agent

import (
	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/commands"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/dynamic"
	"github.com/danmuck/probectl/internal/instance"
	"github.com/danmuck/probectl/internal/remote"
	"github.com/danmuck/probectl/internal/statusd"
)

// Runtime owns the booted service set for one agent process.
type Runtime struct {
	cfg     *config.AgentConfig
	manager *boot.Manager
}

// NewRuntime wires the core services into a fresh service manager. The core
// set registers as defaults so an embedder's extra records can override any
// of them.
func NewRuntime(cfg config.AgentConfig, extra ...boot.Record) *Runtime {
	shared := &cfg
	manager := boot.NewManager()
	manager.Register(
		boot.Default(instance.NewGenerator(shared)),
		boot.Default(remote.NewChannelManager(shared)),
		boot.Default(commands.NewService(shared, manager)),
		boot.Default(commands.NewExecutorService()),
		boot.Default(dynamic.NewService(shared, manager)),
		boot.Default(statusd.NewServer(shared, manager)),
	)
	manager.Register(extra...)
	return &Runtime{cfg: shared, manager: manager}
}

// Start resolves and boots every service. Resolution conflicts fail the
// start; per-service lifecycle failures are logged and absorbed.
func (r *Runtime) Start() error {
	return r.manager.Boot()
}

// Find exposes cross-service lookup to embedders.
func (r *Runtime) Find(kind string) boot.Service {
	return r.manager.Find(kind)
}

// Config returns the live shared configuration.
func (r *Runtime) Config() *config.AgentConfig {
	return r.cfg
}

// Close shuts the service set down in reverse priority order.
func (r *Runtime) Close() {
	r.manager.Shutdown()
}
