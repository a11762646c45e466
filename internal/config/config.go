package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvServiceName    = "PROBECTL_SERVICE_NAME"
	EnvInstanceName   = "PROBECTL_INSTANCE_NAME"
	EnvBackendService = "PROBECTL_BACKEND_SERVICE"
	EnvAuthentication = "PROBECTL_AUTHENTICATION"
)

// AgentConfig is the full runtime configuration of the agent core.
type AgentConfig struct {
	ServiceName  string          `toml:"service_name"`
	InstanceName string          `toml:"instance_name"`
	Collector    CollectorConfig `toml:"collector"`
	Status       StatusConfig    `toml:"status"`
}

// CollectorConfig describes the uplink to the collector fleet.
type CollectorConfig struct {
	// BackendService is a comma-separated host:port list of collector endpoints.
	BackendService          string    `toml:"backend_service"`
	Authentication          string    `toml:"authentication"`
	ResolveDNSPeriodically  bool      `toml:"resolve_dns_periodically"`
	ChannelCheckIntervalS   int       `toml:"channel_check_interval_s"`
	DynamicConfigIntervalS  int       `toml:"dynamic_config_interval_s"`
	UpstreamTimeoutS        int       `toml:"upstream_timeout_s"`
	ForceReconnectionPeriod int       `toml:"force_reconnection_period"`
	TLS                     TLSConfig `toml:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// StatusConfig describes the local status/metrics endpoint. Empty addr disables it.
type StatusConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func Default() AgentConfig {
	return AgentConfig{
		ServiceName: "probectl",
		Collector: CollectorConfig{
			ChannelCheckIntervalS:   30,
			DynamicConfigIntervalS:  20,
			UpstreamTimeoutS:        30,
			ForceReconnectionPeriod: 20,
		},
	}
}

// Load reads a TOML file, layers env overrides on top, and validates the result.
func Load(path string) (AgentConfig, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return AgentConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *AgentConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvServiceName)); v != "" {
		cfg.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvInstanceName)); v != "" {
		cfg.InstanceName = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendService)); v != "" {
		cfg.Collector.BackendService = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAuthentication)); v != "" {
		cfg.Collector.Authentication = v
	}
}

func Validate(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return fmt.Errorf("agent config missing service_name")
	}
	if cfg.Collector.ChannelCheckIntervalS <= 0 {
		return fmt.Errorf("agent config channel_check_interval_s must be positive")
	}
	if cfg.Collector.DynamicConfigIntervalS <= 0 {
		return fmt.Errorf("agent config dynamic_config_interval_s must be positive")
	}
	if cfg.Collector.UpstreamTimeoutS <= 0 {
		return fmt.Errorf("agent config upstream_timeout_s must be positive")
	}
	if cfg.Collector.ForceReconnectionPeriod <= 0 {
		return fmt.Errorf("agent config force_reconnection_period must be positive")
	}
	for i, server := range cfg.Collector.Servers() {
		host, port, ok := strings.Cut(server, ":")
		if !ok || strings.TrimSpace(host) == "" {
			return fmt.Errorf("agent config backend_service[%d] %q must be host:port", i, server)
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("agent config backend_service[%d] %q has invalid port", i, server)
		}
	}
	return nil
}

// Servers splits backend_service into its endpoint list, dropping blanks.
func (c CollectorConfig) Servers() []string {
	if strings.TrimSpace(c.BackendService) == "" {
		return nil
	}
	parts := strings.Split(c.BackendService, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c CollectorConfig) ChannelCheckInterval() time.Duration {
	return time.Duration(c.ChannelCheckIntervalS) * time.Second
}

func (c CollectorConfig) DynamicConfigInterval() time.Duration {
	return time.Duration(c.DynamicConfigIntervalS) * time.Second
}

func (c CollectorConfig) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutS) * time.Second
}
