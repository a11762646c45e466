package agentwire

import (
	"errors"
	"fmt"
)

const (
	// ConfigurationDiscoveryCommandName tags a full-configuration payload.
	ConfigurationDiscoveryCommandName = "ConfigurationDiscoveryCommand"

	// SerialNumberKey and UUIDKey are reserved arg keys; every other arg is a
	// configuration entry.
	SerialNumberKey = "SerialNumber"
	UUIDKey         = "UUID"
)

var ErrUnsupportedCommand = errors.New("agentwire: unsupported command")

// BaseCommand is the typed form of a wire command.
type BaseCommand interface {
	Command() string
	SerialNumber() string
}

// ConfigurationDiscoveryCommand carries one versioned configuration set.
type ConfigurationDiscoveryCommand struct {
	Serial string
	UUID   string
	Config []KeyStringValuePair
}

func (c ConfigurationDiscoveryCommand) Command() string {
	return ConfigurationDiscoveryCommandName
}

func (c ConfigurationDiscoveryCommand) SerialNumber() string {
	return c.Serial
}

// Serialize renders the command back to its wire shape.
func (c ConfigurationDiscoveryCommand) Serialize() Command {
	args := make([]KeyStringValuePair, 0, len(c.Config)+2)
	args = append(args, KeyStringValuePair{Key: SerialNumberKey, Value: c.Serial})
	args = append(args, KeyStringValuePair{Key: UUIDKey, Value: c.UUID})
	args = append(args, c.Config...)
	return Command{Command: ConfigurationDiscoveryCommandName, Args: args}
}

// Deserialize maps a wire command to its typed form. Unknown kinds fail with
// ErrUnsupportedCommand; the caller skips them and keeps the batch going.
func Deserialize(cmd Command) (BaseCommand, error) {
	switch cmd.Command {
	case ConfigurationDiscoveryCommandName:
		return deserializeConfigurationDiscovery(cmd), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Command)
	}
}

func deserializeConfigurationDiscovery(cmd Command) ConfigurationDiscoveryCommand {
	var out ConfigurationDiscoveryCommand
	for _, pair := range cmd.Args {
		switch pair.Key {
		case SerialNumberKey:
			out.Serial = pair.Value
		case UUIDKey:
			out.UUID = pair.Value
		default:
			out.Config = append(out.Config, pair)
		}
	}
	return out
}
