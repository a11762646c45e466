package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	// AgentInstanceHeader carries the agent's instance identity on every call.
	AgentInstanceHeader = "probectl-agent-instance"
	// AuthenticationHeader carries the opaque collector token.
	AuthenticationHeader = "probectl-authentication"
)

// AgentInstanceDecorator stamps the instance-identity header.
func AgentInstanceDecorator(instance string) ChannelDecorator {
	return headerDecorator{key: AgentInstanceHeader, value: instance}
}

// AuthenticationDecorator stamps the authentication token header.
func AuthenticationDecorator(token string) ChannelDecorator {
	return headerDecorator{key: AuthenticationHeader, value: token}
}

type headerDecorator struct {
	key   string
	value string
}

func (d headerDecorator) Decorate(cc grpc.ClientConnInterface) grpc.ClientConnInterface {
	if d.value == "" {
		return cc
	}
	return &headerConn{base: cc, key: d.key, value: d.value}
}

type headerConn struct {
	base  grpc.ClientConnInterface
	key   string
	value string
}

func (c *headerConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	ctx = metadata.AppendToOutgoingContext(ctx, c.key, c.value)
	return c.base.Invoke(ctx, method, args, reply, opts...)
}

func (c *headerConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, c.key, c.value)
	return c.base.NewStream(ctx, desc, method, opts...)
}
