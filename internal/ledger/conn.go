package ledger

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oshokin/ledger-alarm-bridge/internal/topology"
)

var (
	// errAddressRequired is returned when the endpoint has no address.
	errAddressRequired = errors.New("gateway address must be provided")
	// errBadRootCert is returned when the TLS CA cannot be parsed.
	errBadRootCert = errors.New("gateway TLS root certificate is not valid PEM")
)

// transportCredentials picks TLS when the endpoint carries a root certificate.
//
//nolint:ireturn // grpc expects the credentials interface.
func transportCredentials(endpoint *topology.Endpoint) (credentials.TransportCredentials, error) {
	if len(endpoint.TLSRootCert) == 0 {
		return insecure.NewCredentials(), nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(endpoint.TLSRootCert) {
		return nil, errBadRootCert
	}

	return credentials.NewClientTLSFromCert(pool, endpoint.ServerName), nil
}

// dial creates the gRPC connection to the gateway peer and waits until it is
// ready, so unreachable peers fail the session open instead of the first call.
// The context bounds the wait.
func dial(ctx context.Context, endpoint *topology.Endpoint, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if endpoint == nil || endpoint.Address == "" {
		return nil, errAddressRequired
	}

	creds, err := transportCredentials(endpoint)
	if err != nil {
		return nil, err
	}

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)

	conn, err := grpc.NewClient(endpoint.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gateway client for %s: %w", endpoint.Address, err)
	}

	if err = waitReady(ctx, conn); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("connect gateway %s: %w", endpoint.Address, err)
	}

	return conn, nil
}

// waitReady drives the connection until it is ready or the context ends.
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()

	for {
		state := conn.GetState()

		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Connecting, connectivity.TransientFailure:
		}

		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("last state %s: %w", state, ctx.Err())
		}
	}
}
