// Package instance synthesizes the agent's instance identity when the
// configuration leaves it unset.
package instance

import (
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/config"
)

// Kind identifies the instance-name generator in the boot registry.
const Kind = "instance-generator"

// Generator fills in instance_name as <uuid-without-dashes>@<ipv4> during
// prepare. It carries the lowest priority value (boot.PriorityFirst), so it
// prepares first and every later service sees the final name.
type Generator struct {
	boot.NopService
	cfg *config.AgentConfig
}

func NewGenerator(cfg *config.AgentConfig) *Generator {
	return &Generator{cfg: cfg}
}

func (g *Generator) Kind() string {
	return Kind
}

func (g *Generator) Priority() int {
	return boot.PriorityFirst
}

func (g *Generator) Prepare() error {
	if strings.TrimSpace(g.cfg.InstanceName) != "" {
		return nil
	}
	g.cfg.InstanceName = strings.ReplaceAll(uuid.NewString(), "-", "") + "@" + localIPv4()
	return nil
}

// localIPv4 returns the first global unicast IPv4 of this host, falling
// back to loopback when none is up.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || !ip.IsGlobalUnicast() {
			continue
		}
		return ip.String()
	}
	return "127.0.0.1"
}
