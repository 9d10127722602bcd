package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTransactions_ArgumentOrder pins the positional order of every transaction.
func TestTransactions_ArgumentOrder(t *testing.T) {
	t.Parallel()

	tx := NewUpdateAsset("D1", "Sensor1", "R1", "22")
	require.Equal(t, TxUpdateAsset, tx.Name())
	require.Equal(t, []string{"D1", "Sensor1", "R1", "22"}, tx.Args())
	require.NoError(t, tx.Validate())

	tx = NewCreateAsset("asset1", "K1", "Sensor1", "25", "21")
	require.Equal(t, TxCreateAsset, tx.Name())
	require.Equal(t, []string{"asset1", "K1", "Sensor1", "25", "21"}, tx.Args())
	require.NoError(t, tx.Validate())

	tx = NewUpdateTemperatureThreshold("asset1", "30")
	require.Equal(t, TxUpdateTemperatureThreshold, tx.Name())
	require.Equal(t, []string{"asset1", "30"}, tx.Args())
	require.NoError(t, tx.Validate())
}

// TestTransaction_Immutable ensures callers cannot mutate submitted arguments.
func TestTransaction_Immutable(t *testing.T) {
	t.Parallel()

	tx := NewUpdateTemperatureThreshold("asset1", "30")
	args := tx.Args()
	args[0] = "tampered"

	require.Equal(t, "asset1", tx.Args()[0])
}

// TestTransaction_Validate rejects unknown names and wrong arity.
func TestTransaction_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Transaction{name: "DeleteAsset"}.Validate(), ErrUnknownTransaction)
	require.Error(t, Transaction{name: TxUpdateAsset, args: []string{"D1"}}.Validate())
}

// TestParseEventPayload covers alarm, plain and malformed payloads.
func TestParseEventPayload(t *testing.T) {
	t.Parallel()

	payload, err := ParseEventPayload([]byte(`{"ID":"asset1","apiKey":"K1","temperature":30,"isOutOfRange":true,"alarm":true,"customEvent":"temperatureAlarm"}`))
	require.NoError(t, err)
	require.True(t, payload.IsAlarm())
	require.Equal(t, "asset1", payload.AlarmRecord().DeviceID)

	body, err := json.Marshal(payload.AlarmRecord().Telemetry)
	require.NoError(t, err)
	require.JSONEq(t, `{"temperature":30,"isOutOfRange":true,"alarm":true}`, string(body))

	payload, err = ParseEventPayload([]byte(`{"apiKey":"K1","temperature":18,"customEvent":null}`))
	require.NoError(t, err)
	require.False(t, payload.IsAlarm())

	payload, err = ParseEventPayload([]byte(`{"apiKey":"K1"}`))
	require.NoError(t, err)
	require.False(t, payload.IsAlarm())

	for _, raw := range []string{``, `null`, `[1,2]`, `"alarm"`, `{"apiKey":`, `{"alarm":tru}`} {
		_, err = ParseEventPayload([]byte(raw))
		require.ErrorIs(t, err, ErrPayload, raw)
	}
}

// TestParseEventPayload_LooseTypes forwards payloads whose fields use other
// JSON types than the usual ones.
func TestParseEventPayload_LooseTypes(t *testing.T) {
	t.Parallel()

	payload, err := ParseEventPayload([]byte(
		`{"id":7,"apiKey":12345,"temperature":"31.5","isOutOfRange":"true","alarm":1,"customEvent":{"kind":"alarm"}}`,
	))
	require.NoError(t, err)
	require.True(t, payload.IsAlarm())

	record := payload.AlarmRecord()
	require.Equal(t, "7", record.DeviceID)
	require.Equal(t, "12345", record.APIKey)

	body, err := json.Marshal(record.Telemetry)
	require.NoError(t, err)
	require.JSONEq(t, `{"temperature":"31.5","isOutOfRange":"true","alarm":1}`, string(body))
}

// TestAlarmRecord_OmitsAbsentFields leaves out telemetry the event did not carry.
func TestAlarmRecord_OmitsAbsentFields(t *testing.T) {
	t.Parallel()

	payload, err := ParseEventPayload([]byte(`{"apiKey":"K1","alarm":true,"customEvent":"x"}`))
	require.NoError(t, err)

	record := payload.AlarmRecord()
	require.Empty(t, record.DeviceID)

	body, err := json.Marshal(record.Telemetry)
	require.NoError(t, err)
	require.JSONEq(t, `{"alarm":true}`, string(body))
}

func TestText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		``:         "",
		`null`:     "",
		`"K1"`:     "K1",
		`"a\"b"`:   `a"b`,
		` 42 `:     "42",
		`-1.5e3`:   "-1.5e3",
		`true`:     "true",
		`{"a": 1}`: `{"a": 1}`,
	}

	for raw, want := range tests {
		require.Equal(t, want, Text(json.RawMessage(raw)), raw)
	}
}
