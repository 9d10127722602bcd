package transactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/ledger-alarm-bridge/internal/domain/device"
	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
	"github.com/oshokin/ledger-alarm-bridge/internal/metrics"
)

// Service submits transactions to one channel and contract.
type Service struct {
	// opener opens a new session per call.
	opener ledger.Opener
	// channel is the channel every transaction goes to.
	channel string
	// contract is the contract every transaction invokes.
	contract string
	// metrics records outcomes; may be nil.
	metrics *metrics.Metrics
}

// New creates a Service.
func New(opener ledger.Opener, channel, contract string, m *metrics.Metrics) *Service {
	return &Service{
		opener:   opener,
		channel:  channel,
		contract: contract,
		metrics:  m,
	}
}

// Submit opens a session, submits tx and closes the session. It blocks until
// the ledger reports the commit outcome.
func (s *Service) Submit(ctx context.Context, tx device.Transaction) (*ledger.Result, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "transaction", tx.Name())
	started := time.Now()

	result, err := s.submit(ctx, tx)

	elapsed := time.Since(started)

	switch {
	case err == nil:
		s.metrics.ObserveTransaction(tx.Name(), metrics.OutcomeCommitted, elapsed)
		logger.InfoKV(ctx, "Transaction committed",
			"tx_id", result.TransactionID, "block", result.BlockNumber, "elapsed", elapsed)

		return result, nil
	case errors.Is(err, ledger.ErrConnection), errors.Is(err, ledger.ErrNotFound):
		s.metrics.ObserveTransaction(tx.Name(), metrics.OutcomeConnection, elapsed)
	default:
		s.metrics.ObserveTransaction(tx.Name(), metrics.OutcomeRejected, elapsed)
	}

	logger.ErrorKV(ctx, "Transaction failed", "args", tx.Args(), "error", err, "elapsed", elapsed)

	return nil, err
}

// submit holds the session for exactly one transaction.
func (s *Service) submit(ctx context.Context, tx device.Transaction) (*ledger.Result, error) {
	session, err := s.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.metrics.SessionOpened()

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to close ledger session", "error", closeErr)
		}

		s.metrics.SessionClosed()
	}()

	channel, err := session.Channel(s.channel)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %q: %w", s.channel, err)
	}

	contract, err := channel.Contract(s.contract)
	if err != nil {
		return nil, fmt.Errorf("resolve contract %q: %w", s.contract, err)
	}

	result, err := contract.Submit(ctx, tx.Name(), tx.Args()...)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	return result, nil
}
