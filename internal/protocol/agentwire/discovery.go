package agentwire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name of the discovery RPC.
const ServiceName = "probectl.v1.ConfigurationDiscoveryService"

const fetchConfigurationsMethod = "/" + ServiceName + "/fetchConfigurations"

// ConfigurationDiscoveryClient issues sync requests over a decorated channel.
type ConfigurationDiscoveryClient interface {
	FetchConfigurations(ctx context.Context, in *ConfigurationSyncRequest, opts ...grpc.CallOption) (*Commands, error)
}

type configurationDiscoveryClient struct {
	cc grpc.ClientConnInterface
}

func NewConfigurationDiscoveryClient(cc grpc.ClientConnInterface) ConfigurationDiscoveryClient {
	return &configurationDiscoveryClient{cc: cc}
}

func (c *configurationDiscoveryClient) FetchConfigurations(ctx context.Context, in *ConfigurationSyncRequest, opts ...grpc.CallOption) (*Commands, error) {
	out := new(Commands)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fetchConfigurationsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigurationDiscoveryServer is implemented by a collector (real or test).
type ConfigurationDiscoveryServer interface {
	FetchConfigurations(ctx context.Context, req *ConfigurationSyncRequest) (*Commands, error)
}

func RegisterConfigurationDiscoveryServer(s grpc.ServiceRegistrar, srv ConfigurationDiscoveryServer) {
	s.RegisterService(&ConfigurationDiscoveryServiceDesc, srv)
}

func fetchConfigurationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ConfigurationSyncRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConfigurationDiscoveryServer).FetchConfigurations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchConfigurationsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConfigurationDiscoveryServer).FetchConfigurations(ctx, req.(*ConfigurationSyncRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ConfigurationDiscoveryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConfigurationDiscoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "fetchConfigurations",
			Handler:    fetchConfigurationsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "probectl.v1.ConfigurationDiscoveryService",
}
