package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/ledger-alarm-bridge/internal/api/http/gateway"
	"github.com/oshokin/ledger-alarm-bridge/internal/config"
	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
	"github.com/oshokin/ledger-alarm-bridge/internal/metrics"
	"github.com/oshokin/ledger-alarm-bridge/internal/service/forwarder"
	"github.com/oshokin/ledger-alarm-bridge/internal/service/listener"
	"github.com/oshokin/ledger-alarm-bridge/internal/service/transactor"
)

// listenerDisabled is reported on the health route when events are off.
const listenerDisabled = "disabled"

// Bridge is one configured bridge process.
type Bridge struct {
	// settings are validated settings.
	settings *config.Config
	// opener opens ledger sessions.
	opener ledger.Opener
	// metrics is nil when metrics are disabled.
	metrics *metrics.Metrics
}

// New creates a Bridge. The settings must have passed config.Validate.
func New(settings *config.Config, opener ledger.Opener) *Bridge {
	b := &Bridge{
		settings: settings,
		opener:   opener,
	}

	if settings.Metrics.Enabled {
		b.metrics = metrics.New()
	}

	return b
}

// Serve runs the bridge on lis until ctx is canceled or the HTTP server fails.
// Shutdown stops the HTTP server first, then the listener and its session,
// then the forwarder.
func (b *Bridge) Serve(ctx context.Context, lis net.Listener) error {
	ctx = logger.WithName(ctx, "bridge")

	forwarderCtx, stopForwarder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopForwarder()

	listenerCtx, stopListener := context.WithCancel(context.WithoutCancel(ctx))
	defer stopListener()

	fwd := forwarder.New(b.settings.Alarm.BaseURL,
		forwarder.WithTimeout(b.settings.Alarm.Timeout),
		forwarder.WithQueueSize(b.settings.Alarm.QueueSize),
		forwarder.WithMetrics(b.metrics),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return fwd.Run(forwarderCtx)
	})

	events := b.newListener(ctx, fwd)
	listenerDone := make(chan struct{})

	if events != nil {
		group.Go(func() error {
			defer close(listenerDone)

			return events.Run(listenerCtx)
		})
	} else {
		close(listenerDone)
	}

	server := &http.Server{
		Handler:           b.handler(events),
		ReadHeaderTimeout: b.settings.HTTP.ReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	group.Go(func() error {
		logger.InfoKV(ctx, "HTTP gateway listening", "listen_address", lis.Addr().String())

		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "Shutting down bridge")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.settings.HTTP.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			err = fmt.Errorf("shut down HTTP: %w", err)
		}

		stopListener()
		<-listenerDone

		stopForwarder()

		return err
	})

	err := group.Wait()

	logger.Info(ctx, "Bridge stopped")

	return err
}

// newListener prepares the contract event listener, or returns nil when
// events are disabled. The listener opens its own session once running, so
// the HTTP surface never waits for the peer.
func (b *Bridge) newListener(ctx context.Context, fwd *forwarder.Forwarder) *listener.Listener {
	if !b.settings.Events.Enabled {
		logger.Info(ctx, "Contract event listener disabled")

		return nil
	}

	opts := []listener.Option{listener.WithMetrics(b.metrics)}

	if path := b.settings.Events.CheckpointFile; path != "" {
		opts = append(opts, listener.WithEventOptions(ledger.WithCheckpointFile(path)))
	}

	return listener.New(b.opener, b.settings.Ledger.Channel, b.settings.Ledger.Chaincode, fwd, opts...)
}

func (b *Bridge) handler(events *listener.Listener) http.Handler {
	state := func() string {
		if events == nil {
			return listenerDisabled
		}

		return events.State().String()
	}

	opts := []gateway.Option{gateway.WithHealth(state)}

	if b.metrics != nil {
		opts = append(opts, gateway.WithMetricsHandler(b.settings.Metrics.Path, b.metrics.Handler()))
	}

	submitter := transactor.New(b.opener, b.settings.Ledger.Channel, b.settings.Ledger.Chaincode, b.metrics)

	return gateway.New(submitter, opts...).Handler()
}
