package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/oshokin/ledger-alarm-bridge/internal/domain/device"
	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
)

// Routes served by the gateway.
const (
	RouteTelemetry         = "/thingsboard"
	RouteRegisterAsset     = "/register-asset"
	RouteChangeTemperature = "/change-temperature"
	RouteHealth            = "/healthz"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxBodySize bounds inbound request bodies.
const maxBodySize = 1 << 20

// StatusCommitted is reported for transactions the ledger committed.
const StatusCommitted = "committed"

// Submitter submits one transaction and waits for its commit outcome.
type Submitter interface {
	Submit(ctx context.Context, tx device.Transaction) (*ledger.Result, error)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHealth reports the event listener state on the health route.
func WithHealth(state func() string) Option {
	return func(g *Gateway) {
		g.listenerState = state
	}
}

// WithMetricsHandler serves h on GET path.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(g *Gateway) {
		g.metricsPath = path
		g.metricsHandler = h
	}
}

// Gateway maps inbound requests onto ledger transactions.
type Gateway struct {
	// submitter runs the transactions.
	submitter Submitter
	// listenerState reports the event listener state; may be nil.
	listenerState func() string
	// metricsPath is where metricsHandler is mounted.
	metricsPath string
	// metricsHandler serves metrics; may be nil.
	metricsHandler http.Handler
}

// New creates a Gateway.
func New(submitter Submitter, opts ...Option) *Gateway {
	g := &Gateway{submitter: submitter}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Handler returns the routed handler with its middleware chain.
func (g *Gateway) Handler() http.Handler {
	router := mux.NewRouter()

	routes := map[string]func() transactionRequest{
		RouteTelemetry:         func() transactionRequest { return &telemetryRequest{} },
		RouteRegisterAsset:     func() transactionRequest { return &registerRequest{} },
		RouteChangeTemperature: func() transactionRequest { return &thresholdRequest{} },
	}

	for path, newRequest := range routes {
		router.Handle(path, handlers.ContentTypeHandler(g.transaction(newRequest), contentTypeJSON, contentTypeForm)).
			Methods(http.MethodPost)
	}

	router.HandleFunc(RouteHealth, g.health).Methods(http.MethodGet)

	if g.metricsHandler != nil && g.metricsPath != "" {
		router.Handle(g.metricsPath, g.metricsHandler).Methods(http.MethodGet)
	}

	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger.Logger().Desugar())),
	)(router)

	return requestID(handlers.CustomLoggingHandler(io.Discard, recovered, accessLog))
}

func (g *Gateway) transaction(newRequest func() transactionRequest) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body := newRequest()
		if err := decodeBody(w, r, body); err != nil {
			writeError(ctx, w, http.StatusBadRequest, err)

			return
		}

		tx, err := body.transaction()
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, err)

			return
		}

		result, err := g.submitter.Submit(ctx, tx)
		if err != nil {
			writeSubmitError(ctx, w, tx, err)

			return
		}

		writeJSON(ctx, w, http.StatusOK, committedResponse{
			Status:        StatusCommitted,
			Transaction:   tx.Name(),
			TransactionID: result.TransactionID,
			BlockNumber:   result.BlockNumber,
			Result:        resultPayload(result.Payload),
		})
	})
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK

	if g.listenerState != nil {
		resp.Listener = g.listenerState()
		if resp.Listener == "failed" {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(r.Context(), w, code, resp)
}

type committedResponse struct {
	Status        string `json:"status"`
	Transaction   string `json:"transaction"`
	TransactionID string `json:"transactionId"`
	BlockNumber   uint64 `json:"blockNumber"`
	Result        any    `json:"result,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Transaction   string `json:"transaction,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Listener string `json:"listener,omitempty"`
}

// resultPayload embeds JSON results verbatim and quotes anything else.
func resultPayload(payload []byte) any {
	switch {
	case len(payload) == 0:
		return nil
	case json.Valid(payload):
		return json.RawMessage(payload)
	default:
		return string(payload)
	}
}

func writeSubmitError(ctx context.Context, w http.ResponseWriter, tx device.Transaction, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, device.ErrUnknownTransaction):
		code = http.StatusBadRequest
	case errors.Is(err, ledger.ErrConnection), errors.Is(err, ledger.ErrNotFound):
		code = http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrSubmission):
		code = http.StatusBadGateway
	}

	resp := errorResponse{
		Error:       err.Error(),
		Transaction: tx.Name(),
	}

	var submitErr *ledger.SubmitError
	if errors.As(err, &submitErr) {
		resp.TransactionID = submitErr.TransactionID
	}

	writeJSON(ctx, w, code, resp)
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, err error) {
	logger.WarnKV(ctx, "Rejected request", "status", code, "error", err)
	writeJSON(ctx, w, code, errorResponse{Error: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnKV(ctx, "Failed to write response", "error", err)
	}
}

// requestID puts a request ID into the logging context and the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		ctx := logger.WithKV(r.Context(), "request_id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(_ io.Writer, params handlers.LogFormatterParams) {
	logger.DebugKV(params.Request.Context(), "HTTP request served",
		"method", params.Request.Method,
		"path", params.URL.Path,
		"status", params.StatusCode,
		"size", params.Size,
		"elapsed", time.Since(params.TimeStamp),
	)
}
