package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/hash"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"

	"github.com/oshokin/ledger-alarm-bridge/internal/topology"
	"github.com/oshokin/ledger-alarm-bridge/internal/wallet"
)

// Opener opens sessions. Connector is the production implementation.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one authenticated connection to the network.
type Session interface {
	// Channel resolves a channel by name.
	Channel(name string) (Channel, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Channel is a named partition of the network, valid while its session is open.
type Channel interface {
	// Name returns the channel name.
	Name() string
	// Contract resolves a deployed contract by name.
	Contract(name string) (Contract, error)
	// ContractEvents streams the events emitted by a contract from now on.
	ContractEvents(ctx context.Context, contract string, opts ...EventOption) (<-chan *Event, error)
}

// Contract is a deployed contract, valid while its session is open.
type Contract interface {
	// Name returns the contract name.
	Name() string
	// Submit invokes a transaction and returns once its commit outcome is known.
	Submit(ctx context.Context, transaction string, args ...string) (*Result, error)
}

// Result is the outcome of a committed transaction.
type Result struct {
	// TransactionID identifies the transaction on the ledger.
	TransactionID string
	// BlockNumber is the block the transaction committed in.
	BlockNumber uint64
	// Payload is the contract's return value.
	Payload []byte
}

// Timeouts bound gateway calls. Zero values keep the gateway defaults.
type Timeouts struct {
	Dial         time.Duration
	Evaluate     time.Duration
	Endorse      time.Duration
	Submit       time.Duration
	CommitStatus time.Duration
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithTimeouts sets the gateway call timeouts.
func WithTimeouts(timeouts Timeouts) ConnectorOption {
	return func(c *Connector) {
		c.timeouts = timeouts
	}
}

// WithDialOptions appends gRPC dial options, mainly for tests.
func WithDialOptions(opts ...grpc.DialOption) ConnectorOption {
	return func(c *Connector) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// Connector opens sessions for one identity against one gateway endpoint.
type Connector struct {
	// id is the X.509 identity presented to the network.
	id *identity.X509Identity
	// sign signs proposals and transactions with the identity's key.
	sign identity.Sign
	// endpoint is the resolved gateway peer.
	endpoint *topology.Endpoint
	// timeouts bound gateway calls.
	timeouts Timeouts
	// dialOptions are appended to the gRPC dial options.
	dialOptions []grpc.DialOption
}

// NewConnector prepares a connector from an enrolled identity and a resolved endpoint.
func NewConnector(enrolled *wallet.Identity, endpoint *topology.Endpoint, opts ...ConnectorOption) (*Connector, error) {
	if err := enrolled.Validate(); err != nil {
		return nil, err
	}

	certificate, err := identity.CertificateFromPEM(enrolled.Certificate)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	id, err := identity.NewX509Identity(enrolled.MSPID, certificate)
	if err != nil {
		return nil, fmt.Errorf("build identity: %w", err)
	}

	privateKey, err := identity.PrivateKeyFromPEM(enrolled.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	sign, err := identity.NewPrivateKeySign(privateKey)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	c := &Connector{
		id:       id,
		sign:     sign,
		endpoint: endpoint,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Open dials the gateway peer and connects a gateway session. Anything
// opened before a failure is released before returning.
//
//nolint:ireturn // Callers depend on the Session abstraction.
func (c *Connector) Open(ctx context.Context) (Session, error) {
	dialCtx := ctx

	if c.timeouts.Dial > 0 {
		var cancel context.CancelFunc

		dialCtx, cancel = context.WithTimeout(ctx, c.timeouts.Dial)
		defer cancel()
	}

	conn, err := dial(dialCtx, c.endpoint, c.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	options := []client.ConnectOption{
		client.WithSign(c.sign),
		client.WithHash(hash.SHA256),
		client.WithClientConnection(conn),
	}

	if c.timeouts.Evaluate > 0 {
		options = append(options, client.WithEvaluateTimeout(c.timeouts.Evaluate))
	}

	if c.timeouts.Endorse > 0 {
		options = append(options, client.WithEndorseTimeout(c.timeouts.Endorse))
	}

	if c.timeouts.Submit > 0 {
		options = append(options, client.WithSubmitTimeout(c.timeouts.Submit))
	}

	if c.timeouts.CommitStatus > 0 {
		options = append(options, client.WithCommitStatusTimeout(c.timeouts.CommitStatus))
	}

	gw, err := client.Connect(c.id, options...)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("%w: connect gateway: %w", ErrConnection, err)
	}

	return &gatewaySession{
		gateway: gw,
		conn:    conn,
	}, nil
}

// gatewaySession owns a gateway and the gRPC connection under it.
type gatewaySession struct {
	gateway *client.Gateway
	conn    *grpc.ClientConn

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Channel resolves a channel. Existence is confirmed by the peer on first use.
//
//nolint:ireturn // Callers depend on the Channel abstraction.
func (s *gatewaySession) Channel(name string) (Channel, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	if name == "" {
		return nil, fmt.Errorf("%w: channel name is empty", ErrNotFound)
	}

	return &gatewayChannel{
		session: s,
		network: s.gateway.GetNetwork(name),
	}, nil
}

// Close closes the gateway and then the connection, once.
func (s *gatewaySession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		gatewayErr := s.gateway.Close()
		connErr := s.conn.Close()

		switch {
		case gatewayErr != nil:
			s.closeErr = fmt.Errorf("close gateway: %w", gatewayErr)
		case connErr != nil:
			s.closeErr = fmt.Errorf("close connection: %w", connErr)
		}
	})

	return s.closeErr
}

// check fails once the session is closed.
func (s *gatewaySession) check() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: session is closed", ErrConnection)
	}

	return nil
}

// gatewayChannel wraps a gateway network.
type gatewayChannel struct {
	session *gatewaySession
	network *client.Network
}

func (c *gatewayChannel) Name() string {
	return c.network.Name()
}

//nolint:ireturn // Callers depend on the Contract abstraction.
func (c *gatewayChannel) Contract(name string) (Contract, error) {
	if err := c.session.check(); err != nil {
		return nil, err
	}

	if name == "" {
		return nil, fmt.Errorf("%w: contract name is empty", ErrNotFound)
	}

	return &gatewayContract{
		session:  c.session,
		contract: c.network.GetContract(name),
	}, nil
}

// gatewayContract wraps a gateway contract.
type gatewayContract struct {
	session  *gatewaySession
	contract *client.Contract
}

func (c *gatewayContract) Name() string {
	return c.contract.ChaincodeName()
}

// Submit endorses, submits and waits for the commit status of one transaction.
func (c *gatewayContract) Submit(ctx context.Context, transaction string, args ...string) (*Result, error) {
	if err := c.session.check(); err != nil {
		return nil, err
	}

	proposal, err := c.contract.NewProposal(transaction, client.WithArguments(args...))
	if err != nil {
		return nil, newSubmitError(transaction, "", StageProposal, err)
	}

	txID := proposal.TransactionID()

	endorsed, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return nil, newSubmitError(transaction, txID, StageEndorse, err)
	}

	commit, err := endorsed.SubmitWithContext(ctx)
	if err != nil {
		return nil, newSubmitError(transaction, txID, StageSubmit, err)
	}

	commitStatus, err := commit.StatusWithContext(ctx)
	if err != nil {
		return nil, newSubmitError(transaction, txID, StageCommitStatus, err)
	}

	if !commitStatus.Successful {
		submitErr := newSubmitError(transaction, txID, StageCommit, nil)
		submitErr.Code = commitStatus.Code.String()

		return nil, submitErr
	}

	return &Result{
		TransactionID: txID,
		BlockNumber:   commitStatus.BlockNumber,
		Payload:       endorsed.Result(),
	}, nil
}
