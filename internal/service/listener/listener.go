package listener

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/oshokin/ledger-alarm-bridge/internal/domain/device"
	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
	"github.com/oshokin/ledger-alarm-bridge/internal/metrics"
)

// State is the registration state of a Listener.
type State int32

// Listener states.
const (
	StateUnregistered State = iota
	StateActive
	StateFailed
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

//nolint:gochecknoglobals // Read-only list for the state gauge.
var allStates = []string{
	StateUnregistered.String(),
	StateActive.String(),
	StateFailed.String(),
	StateStopped.String(),
}

// StateNames returns the names of every state.
func StateNames() []string {
	return slices.Clone(allStates)
}

var errStreamClosed = errors.New("event stream closed")

// Forwarder receives alarm records. It must not block.
type Forwarder interface {
	Forward(ctx context.Context, record device.AlarmRecord)
}

// Option configures a Listener.
type Option func(*Listener)

// WithEventOptions passes options to the event subscription.
func WithEventOptions(opts ...ledger.EventOption) Option {
	return func(l *Listener) {
		l.eventOptions = append(l.eventOptions, opts...)
	}
}

// WithMetrics records event outcomes and state changes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

// Listener is a single durable subscription to one contract's events. It
// owns the event session for as long as it runs.
type Listener struct {
	// opener opens the event session.
	opener ledger.Opener
	// channel is the channel the contract is deployed on.
	channel string
	// contract is the contract whose events are handled.
	contract string
	// forwarder receives alarm records.
	forwarder Forwarder
	// eventOptions configure the subscription.
	eventOptions []ledger.EventOption
	// metrics records outcomes; may be nil.
	metrics *metrics.Metrics
	// state holds a State.
	state atomic.Int32
}

// New creates an unregistered Listener.
func New(opener ledger.Opener, channel, contract string, forwarder Forwarder, opts ...Option) *Listener {
	l := &Listener{
		opener:    opener,
		channel:   channel,
		contract:  contract,
		forwarder: forwarder,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.setState(StateUnregistered)

	return l
}

// State returns the current registration state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Run opens the event session, registers the subscription and handles
// events until ctx ends or the stream breaks. Failures are logged and leave
// the Listener in StateFailed; Run never returns them so the rest of the
// process keeps serving. The session is closed before Run returns.
func (l *Listener) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "listener")
	ctx = logger.WithKV(ctx, "channel", l.channel, "contract", l.contract)

	events, session, err := l.register(ctx)
	if err != nil {
		if ctx.Err() != nil {
			l.setState(StateStopped)

			return nil
		}

		l.setState(StateFailed)
		logger.ErrorKV(ctx, "Failed to register contract event listener", "error", err)

		return nil
	}

	defer l.closeSession(ctx, session)

	l.setState(StateActive)
	logger.Info(ctx, "Contract event listener registered")

	for {
		select {
		case <-ctx.Done():
			l.setState(StateStopped)
			logger.Info(ctx, "Contract event listener stopped")

			return nil
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					l.setState(StateStopped)

					return nil
				}

				l.setState(StateFailed)
				logger.ErrorKV(ctx, "Contract event delivery failed", "error", errStreamClosed)

				return nil
			}

			l.safeHandle(ctx, event)
		}
	}
}

// register opens the session and subscribes. Nothing stays open on failure.
func (l *Listener) register(ctx context.Context) (<-chan *ledger.Event, ledger.Session, error) {
	session, err := l.opener.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}

	l.metrics.SessionOpened()

	channel, err := session.Channel(l.channel)
	if err != nil {
		l.closeSession(ctx, session)

		return nil, nil, fmt.Errorf("resolve channel %q: %w", l.channel, err)
	}

	events, err := channel.ContractEvents(ctx, l.contract, l.eventOptions...)
	if err != nil {
		l.closeSession(ctx, session)

		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	return events, session, nil
}

func (l *Listener) closeSession(ctx context.Context, session ledger.Session) {
	if err := session.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close event session", "error", err)
	}

	l.metrics.SessionClosed()
}

// Handle applies the alarm filter to one event.
func (l *Listener) Handle(ctx context.Context, event *ledger.Event) {
	if event == nil || !event.Valid {
		l.metrics.ObserveEvent(metrics.EventInvalid)

		return
	}

	ctx = logger.WithKV(ctx,
		"event", event.EventName,
		"block", event.BlockNumber,
		"tx_id", event.TransactionID,
	)

	logger.DebugKV(ctx, "Contract event received")

	payload, err := device.ParseEventPayload(event.Payload)
	if err != nil {
		l.metrics.ObserveEvent(metrics.EventMalformed)
		logger.ErrorKV(ctx, "Dropped contract event with malformed payload", "error", err)

		return
	}

	if !payload.IsAlarm() {
		l.metrics.ObserveEvent(metrics.EventIgnored)

		return
	}

	l.metrics.ObserveEvent(metrics.EventAlarm)
	record := payload.AlarmRecord()
	logger.InfoKV(ctx, "Alarm event received", "device_id", record.DeviceID)

	l.forwarder.Forward(ctx, record)
}

// safeHandle keeps a panicking handler from ending the subscription.
func (l *Listener) safeHandle(ctx context.Context, event *ledger.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV(ctx, "Recovered from panic while handling contract event", "panic", r)
		}
	}()

	l.Handle(ctx, event)
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.SetListenerState(s.String(), allStates)
}
