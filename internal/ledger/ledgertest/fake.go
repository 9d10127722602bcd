// Package ledgertest provides an in-memory ledger for tests of code that
// depends on ledger.Opener.
package ledgertest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
)

// Submission is one recorded transaction.
type Submission struct {
	Channel     string
	Contract    string
	Transaction string
	Args        []string
}

// Ledger is a fake network. Errors are injected through the exported fields,
// which must be set before use.
type Ledger struct {
	// OpenErr fails Open.
	OpenErr error
	// ChannelErr fails Channel.
	ChannelErr error
	// ContractErr fails Contract.
	ContractErr error
	// SubmitErr fails Submit after recording the submission.
	SubmitErr error
	// EventsErr fails ContractEvents.
	EventsErr error
	// Events feeds ContractEvents subscribers.
	Events chan *ledger.Event

	mu          sync.Mutex
	opened      int
	closed      int
	submissions []Submission
	subscribed  []string
}

// New returns a fake ledger with an unbuffered event feed.
func New() *Ledger {
	return &Ledger{
		Events: make(chan *ledger.Event),
	}
}

// Open returns a new session or OpenErr.
//
//nolint:ireturn // Implements ledger.Opener.
func (l *Ledger) Open(context.Context) (ledger.Session, error) {
	if l.OpenErr != nil {
		return nil, l.OpenErr
	}

	l.mu.Lock()
	l.opened++
	l.mu.Unlock()

	return &session{ledger: l}, nil
}

// Opened returns how many sessions were opened.
func (l *Ledger) Opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.opened
}

// Closed returns how many sessions were closed, counting each session once.
func (l *Ledger) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

// Submissions returns a copy of the recorded submissions.
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.submissions)
}

// Subscriptions returns the contracts subscribed to.
func (l *Ledger) Subscriptions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.subscribed)
}

type session struct {
	ledger *Ledger
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

//nolint:ireturn // Implements ledger.Session.
func (s *session) Channel(name string) (ledger.Channel, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	if s.ledger.ChannelErr != nil {
		return nil, s.ledger.ChannelErr
	}

	return &channel{session: s, name: name}, nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.ledger.mu.Lock()
		s.ledger.closed++
		s.ledger.mu.Unlock()
	})

	return nil
}

func (s *session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: session is closed", ledger.ErrConnection)
	}

	return nil
}

type channel struct {
	session *session
	name    string
}

func (c *channel) Name() string {
	return c.name
}

//nolint:ireturn // Implements ledger.Channel.
func (c *channel) Contract(name string) (ledger.Contract, error) {
	if err := c.session.check(); err != nil {
		return nil, err
	}

	if c.session.ledger.ContractErr != nil {
		return nil, c.session.ledger.ContractErr
	}

	return &contract{channel: c, name: name}, nil
}

func (c *channel) ContractEvents(ctx context.Context, name string, _ ...ledger.EventOption) (<-chan *ledger.Event, error) {
	l := c.session.ledger
	if l.EventsErr != nil {
		return nil, l.EventsErr
	}

	l.mu.Lock()
	l.subscribed = append(l.subscribed, name)
	l.mu.Unlock()

	out := make(chan *ledger.Event)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-l.Events:
				if !ok {
					return
				}

				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

type contract struct {
	channel *channel
	name    string
}

func (c *contract) Name() string {
	return c.name
}

func (c *contract) Submit(_ context.Context, transaction string, args ...string) (*ledger.Result, error) {
	if err := c.channel.session.check(); err != nil {
		return nil, err
	}

	l := c.channel.session.ledger

	l.mu.Lock()
	l.submissions = append(l.submissions, Submission{
		Channel:     c.channel.name,
		Contract:    c.name,
		Transaction: transaction,
		Args:        slices.Clone(args),
	})
	n := len(l.submissions)
	l.mu.Unlock()

	if l.SubmitErr != nil {
		return nil, l.SubmitErr
	}

	return &ledger.Result{
		TransactionID: fmt.Sprintf("tx-%d", n),
		BlockNumber:   uint64(n),
		Payload:       []byte(`{"status":"ok"}`),
	}, nil
}
