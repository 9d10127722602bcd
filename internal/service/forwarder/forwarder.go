package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oshokin/ledger-alarm-bridge/internal/domain/device"
	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
	"github.com/oshokin/ledger-alarm-bridge/internal/metrics"
)

const (
	// DefaultQueueSize bounds alarms waiting for the worker.
	DefaultQueueSize = 64
	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 5 * time.Second

	// maxDrainBytes limits how much of a response body is read before closing.
	maxDrainBytes = 4 << 10
)

var (
	// ErrForward reports a failed delivery attempt.
	ErrForward = errors.New("alarm delivery failed")
	// errAPIKeyRequired is returned for records without an API key.
	errAPIKeyRequired = errors.New("alarm record has no api key")
)

// job is a queued record with the context it was forwarded from. The
// context keeps its values but not its cancellation.
type job struct {
	ctx    context.Context //nolint:containedctx // Carries the event's log fields to the worker.
	record device.AlarmRecord
}

// Forwarder posts alarm records to <baseURL>/api/v1/{apiKey}/telemetry.
type Forwarder struct {
	// baseURL is the sink root without a trailing slash.
	baseURL string
	// client performs the POST; its timeout bounds one attempt.
	client *http.Client
	// queue holds records waiting for the worker.
	queue chan job
	// metrics records outcomes; may be nil.
	metrics *metrics.Metrics
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout sets the per-attempt timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Forwarder) {
		if timeout > 0 {
			f.client.Timeout = timeout
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(size int) Option {
	return func(f *Forwarder) {
		if size > 0 {
			f.queue = make(chan job, size)
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// New creates a Forwarder for the sink at baseURL.
func New(baseURL string, opts ...Option) *Forwarder {
	f := &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		queue:   make(chan job, DefaultQueueSize),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Forward enqueues the record and returns immediately. A full queue drops
// the record.
func (f *Forwarder) Forward(ctx context.Context, record device.AlarmRecord) {
	select {
	case f.queue <- job{ctx: context.WithoutCancel(ctx), record: record}:
		f.metrics.SetAlarmQueue(len(f.queue))
	default:
		f.metrics.ObserveAlarm(metrics.AlarmDropped)
		logger.ErrorKV(ctx, "Alarm dropped, delivery queue is full",
			"device_id", record.DeviceID, "queue_size", cap(f.queue))
	}
}

// Run delivers queued records one at a time until ctx ends. Records still
// queued at that point are discarded.
func (f *Forwarder) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "forwarder")
	logger.InfoKV(ctx, "Alarm forwarder started", "base_url", f.baseURL, "queue_size", cap(f.queue))

	for {
		select {
		case <-ctx.Done():
			if pending := len(f.queue); pending > 0 {
				logger.WarnKV(ctx, "Alarm forwarder stopped with undelivered alarms", "pending", pending)
			}

			return nil
		case j := <-f.queue:
			f.metrics.SetAlarmQueue(len(f.queue))
			f.deliverOnce(ctx, j)
		}
	}
}

// deliverOnce makes the single delivery attempt of a record and logs its outcome.
func (f *Forwarder) deliverOnce(ctx context.Context, j job) {
	jobCtx := logger.WithKV(j.ctx, "device_id", j.record.DeviceID)

	// The worker context bounds the attempt so shutdown interrupts it.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	code, err := f.deliver(attemptCtx, j.record)
	if err != nil {
		f.metrics.ObserveAlarm(metrics.AlarmFailed)
		logger.ErrorKV(jobCtx, "Alarm delivery failed", "status", code, "error", err)

		return
	}

	f.metrics.ObserveAlarm(metrics.AlarmSent)
	logger.InfoKV(jobCtx, "Alarm delivered", "status", code)
}

// deliver posts the record's telemetry and returns the response status.
func (f *Forwarder) deliver(ctx context.Context, record device.AlarmRecord) (int, error) {
	if record.APIKey == "" {
		return 0, fmt.Errorf("%w: %w", ErrForward, errAPIKeyRequired)
	}

	body, err := json.Marshal(record.Telemetry)
	if err != nil {
		return 0, fmt.Errorf("%w: encode telemetry: %w", ErrForward, err)
	}

	endpoint := f.baseURL + "/api/v1/" + url.PathEscape(record.APIKey) + "/telemetry"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", ErrForward, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrForward, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("%w: sink answered %s", ErrForward, resp.Status)
	}

	return resp.StatusCode, nil
}
