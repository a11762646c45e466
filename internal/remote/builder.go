package remote

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/danmuck/probectl/internal/config"
)

var ErrBadCACertificate = errors.New("remote: CA file contains no usable certificates")

// StandardChannelBuilder selects plaintext transport.
type StandardChannelBuilder struct{}

func (StandardChannelBuilder) Apply(opts []grpc.DialOption) ([]grpc.DialOption, error) {
	return append(opts, grpc.WithTransportCredentials(insecure.NewCredentials())), nil
}

// TLSChannelBuilder selects TLS transport per the collector config.
type TLSChannelBuilder struct {
	TLS config.TLSConfig
}

func (b TLSChannelBuilder) Apply(opts []grpc.DialOption) ([]grpc.DialOption, error) {
	tlsCfg := &tls.Config{
		ServerName:         b.TLS.ServerName,
		InsecureSkipVerify: b.TLS.InsecureSkipVerify,
	}
	if b.TLS.CAFile != "" {
		pem, err := os.ReadFile(b.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("remote: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrBadCACertificate
		}
		tlsCfg.RootCAs = pool
	}
	return append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))), nil
}

// BuildersFor returns the builder chain for the configured transport mode.
func BuildersFor(cfg config.CollectorConfig) []ChannelBuilder {
	if cfg.TLS.Enabled {
		return []ChannelBuilder{TLSChannelBuilder{TLS: cfg.TLS}}
	}
	return []ChannelBuilder{StandardChannelBuilder{}}
}
