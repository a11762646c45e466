package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/agent"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to agent TOML config")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probectl: %v\n", err)
		os.Exit(1)
	}

	runtime := agent.NewRuntime(cfg)
	if err := runtime.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "probectl: %v\n", err)
		os.Exit(1)
	}
	log.Info().
		Str("service", runtime.Config().ServiceName).
		Str("instance", runtime.Config().InstanceName).
		Msg("agent core started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	runtime.Close()
}
