package remote

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/danmuck/probectl/internal/protocol/agentwire"
)

// ChannelBuilder contributes dial options to a channel under construction,
// typically the transport-security mode.
type ChannelBuilder interface {
	Apply(opts []grpc.DialOption) ([]grpc.DialOption, error)
}

// ChannelDecorator wraps the built connection, typically to attach headers
// to every outgoing call. Decorators apply in registration order.
type ChannelDecorator interface {
	Decorate(cc grpc.ClientConnInterface) grpc.ClientConnInterface
}

// Channel is the owned handle to one active collector connection.
type Channel struct {
	target    string
	conn      *grpc.ClientConn
	decorated grpc.ClientConnInterface
}

// NewChannel builds a connection to target through the builder chain and
// wraps it with the decorator chain.
func NewChannel(target string, builders []ChannelBuilder, decorators []ChannelDecorator) (*Channel, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(agentwire.CodecName)),
	}
	var err error
	for _, builder := range builders {
		opts, err = builder.Apply(opts)
		if err != nil {
			return nil, fmt.Errorf("remote: channel build for %s: %w", target, err)
		}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: channel build for %s: %w", target, err)
	}
	conn.Connect()

	var cc grpc.ClientConnInterface = conn
	for _, decorator := range decorators {
		cc = decorator.Decorate(cc)
	}
	return &Channel{target: target, conn: conn, decorated: cc}, nil
}

func (c *Channel) Target() string {
	return c.target
}

// Conn returns the decorated connection used for all outgoing calls.
func (c *Channel) Conn() grpc.ClientConnInterface {
	return c.decorated
}

// Ready reports whether the underlying connection is usable. When
// requestConnection is set, an idle connection is asked to connect first.
func (c *Channel) Ready(requestConnection bool) bool {
	if requestConnection {
		c.conn.Connect()
	}
	return c.conn.GetState() == connectivity.Ready
}

func (c *Channel) Shutdown() {
	_ = c.conn.Close()
}
