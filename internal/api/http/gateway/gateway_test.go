package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/ledger-alarm-bridge/internal/domain/device"
	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
)

// submitter records transactions and answers with a fixed outcome.
type submitter struct {
	mu     sync.Mutex
	txs    []device.Transaction
	result *ledger.Result
	err    error
}

func (s *submitter) Submit(_ context.Context, tx device.Transaction) (*ledger.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs = append(s.txs, tx)

	if s.err != nil {
		return nil, s.err
	}

	return s.result, nil
}

func (s *submitter) submitted() []device.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]device.Transaction(nil), s.txs...)
}

func committed() *submitter {
	return &submitter{result: &ledger.Result{
		TransactionID: "tx-1",
		BlockNumber:   9,
		Payload:       []byte(`{"ID":"D1"}`),
	}}
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	return postAs(t, h, path, contentTypeJSON, body)
}

func postAs(t *testing.T, h http.Handler, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	return out
}

func TestGateway_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
		want device.Transaction
	}{
		{
			name: "telemetry",
			path: RouteTelemetry,
			body: `{"deviceId":"D1","metadata":{"deviceName":"Sensor1","room":"R1"},"temperature":22}`,
			want: device.NewUpdateAsset("D1", "Sensor1", "R1", "22"),
		},
		{
			name: "telemetry with string temperature and extra fields",
			path: RouteTelemetry,
			body: `{"deviceId":"D1","metadata":{"deviceName":"Sensor1","room":"R1","ts":"1"},"temperature":"22.5","humidity":40}`,
			want: device.NewUpdateAsset("D1", "Sensor1", "R1", "22.5"),
		},
		{
			name: "register asset",
			path: RouteRegisterAsset,
			body: `{"id":"asset1","apiKey":"K","deviceName":"Sensor1","temperatureThreshold":25,"temperature":20}`,
			want: device.NewCreateAsset("asset1", "K", "Sensor1", "25", "20"),
		},
		{
			name: "change temperature",
			path: RouteChangeTemperature,
			body: `{"id":"asset1","temperatureThreshold":-3.5}`,
			want: device.NewUpdateTemperatureThreshold("asset1", "-3.5"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := committed()
			rec := post(t, New(s).Handler(), tt.path, tt.body)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Equal(t, []device.Transaction{tt.want}, s.submitted())

			out := decode(t, rec)
			require.Equal(t, StatusCommitted, out["status"])
			require.Equal(t, tt.want.Name(), out["transaction"])
			require.Equal(t, "tx-1", out["transactionId"])
			require.Equal(t, map[string]any{"ID": "D1"}, out["result"])
		})
	}
}

func TestGateway_FormBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		path        string
		contentType string
		body        url.Values
		want        device.Transaction
	}{
		{
			name:        "change temperature",
			path:        RouteChangeTemperature,
			contentType: contentTypeForm,
			body:        url.Values{"id": {"asset1"}, "temperatureThreshold": {"30"}},
			want:        device.NewUpdateTemperatureThreshold("asset1", "30"),
		},
		{
			name:        "telemetry with dotted metadata keys",
			path:        RouteTelemetry,
			contentType: contentTypeForm + "; charset=utf-8",
			body: url.Values{
				"deviceId":            {"D1"},
				"metadata.deviceName": {"Sensor1"},
				"metadata.room":       {"R1"},
				"temperature":         {"22.5"},
			},
			want: device.NewUpdateAsset("D1", "Sensor1", "R1", "22.5"),
		},
		{
			name:        "register asset keeps the first repeated value",
			path:        RouteRegisterAsset,
			contentType: contentTypeForm,
			body: url.Values{
				"id":                   {"asset1", "asset2"},
				"apiKey":               {"K"},
				"deviceName":           {"Sensor1"},
				"temperatureThreshold": {"25"},
				"temperature":          {"20"},
			},
			want: device.NewCreateAsset("asset1", "K", "Sensor1", "25", "20"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := committed()
			rec := postAs(t, New(s).Handler(), tt.path, tt.contentType, tt.body.Encode())

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Equal(t, []device.Transaction{tt.want}, s.submitted())
		})
	}
}

func TestGateway_FormMissingFields(t *testing.T) {
	t.Parallel()

	s := committed()
	rec := postAs(t, New(s).Handler(), RouteChangeTemperature, contentTypeForm, "id=asset1&temperatureThreshold=")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "missing required fields: temperatureThreshold")
	require.Empty(t, s.submitted())
}

func TestFormObject(t *testing.T) {
	t.Parallel()

	got := formObject(url.Values{
		"a":     {"1"},
		"b.c":   {"2"},
		"b.d.e": {"3"},
		"b.d":   {"leaf"},
		"empty": {},
	})

	require.Equal(t, map[string]any{
		"a": "1",
		"b": map[string]any{
			"c": "2",
			"d": map[string]any{"e": "3"},
		},
	}, got)
}

func TestGateway_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		body    string
		message string
	}{
		{
			name:    "not json",
			path:    RouteTelemetry,
			body:    `deviceId=D1`,
			message: "decode body",
		},
		{
			name:    "missing metadata",
			path:    RouteTelemetry,
			body:    `{"deviceId":"D1","temperature":22}`,
			message: "metadata.deviceName, metadata.room",
		},
		{
			name:    "null field",
			path:    RouteChangeTemperature,
			body:    `{"id":"asset1","temperatureThreshold":null}`,
			message: "temperatureThreshold",
		},
		{
			name:    "empty string field",
			path:    RouteRegisterAsset,
			body:    `{"id":"","apiKey":"K","deviceName":"S","temperatureThreshold":1,"temperature":1}`,
			message: "missing required fields: id",
		},
		{
			name:    "object where a scalar is expected",
			path:    RouteChangeTemperature,
			body:    `{"id":{"nested":true},"temperatureThreshold":1}`,
			message: "expected a string, number or boolean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := committed()
			rec := post(t, New(s).Handler(), tt.path, tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, decode(t, rec)["error"], tt.message)
			require.Empty(t, s.submitted())
		})
	}
}

func TestGateway_SubmitErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
		txID string
	}{
		{
			name: "connection",
			err:  fmt.Errorf("open session: %w", ledger.ErrConnection),
			code: http.StatusServiceUnavailable,
		},
		{
			name: "not found",
			err:  fmt.Errorf("resolve contract: %w", ledger.ErrNotFound),
			code: http.StatusServiceUnavailable,
		},
		{
			name: "rejected",
			err: &ledger.SubmitError{
				Transaction:   device.TxUpdateTemperatureThreshold,
				TransactionID: "abc",
				Stage:         ledger.StageEndorse,
				Err:           errors.New("asset asset1 does not exist"),
			},
			code: http.StatusBadGateway,
			txID: "abc",
		},
		{
			name: "peer unavailable during submit",
			err: &ledger.SubmitError{
				Transaction: device.TxUpdateTemperatureThreshold,
				Stage:       ledger.StageSubmit,
				Err:         status.Error(codes.Unavailable, "orderer down"),
			},
			code: http.StatusServiceUnavailable,
		},
		{
			name: "chaincode unknown to the peer",
			err: &ledger.SubmitError{
				Transaction:   device.TxUpdateTemperatureThreshold,
				TransactionID: "def",
				Stage:         ledger.StageEndorse,
				Err:           status.Error(codes.NotFound, "chaincode basic not found"),
			},
			code: http.StatusServiceUnavailable,
			txID: "def",
		},
		{
			name: "unexpected",
			err:  errors.New("boom"),
			code: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &submitter{err: tt.err}
			rec := post(t, New(s).Handler(), RouteChangeTemperature, `{"id":"asset1","temperatureThreshold":30}`)

			require.Equal(t, tt.code, rec.Code)

			out := decode(t, rec)
			require.Equal(t, device.TxUpdateTemperatureThreshold, out["transaction"])
			require.NotEmpty(t, out["error"])

			if tt.txID != "" {
				require.Equal(t, tt.txID, out["transactionId"])
			}
		})
	}
}

func TestGateway_RejectsWrongMethodAndContentType(t *testing.T) {
	t.Parallel()

	s := committed()
	h := New(s).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteTelemetry, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, RouteTelemetry, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Empty(t, s.submitted())
}

func TestGateway_RequestID(t *testing.T) {
	t.Parallel()

	h := New(committed()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteHealth, nil))
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, RouteHealth, nil)
	req.Header.Set(RequestIDHeader, "req-42")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestGateway_Health(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state  string
		code   int
		status string
	}{
		{state: "active", code: http.StatusOK, status: "ok"},
		{state: "unregistered", code: http.StatusOK, status: "ok"},
		{state: "failed", code: http.StatusServiceUnavailable, status: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			t.Parallel()

			h := New(committed(), WithHealth(func() string { return tt.state })).Handler()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteHealth, nil))

			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, map[string]any{"status": tt.status, "listener": tt.state}, decode(t, rec))
		})
	}
}

func TestGateway_Metrics(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "bridge_up 1\n")
	})

	h := New(committed(), WithMetricsHandler("/metrics", metrics)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bridge_up 1\n", rec.Body.String())
}

func TestGateway_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	h := New(panicking{}).Handler()
	rec := post(t, h, RouteChangeTemperature, `{"id":"asset1","temperatureThreshold":30}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicking struct{}

func (panicking) Submit(context.Context, device.Transaction) (*ledger.Result, error) {
	panic("submitter exploded")
}
