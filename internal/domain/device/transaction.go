package device

import (
	"errors"
	"fmt"
	"slices"
)

// Transaction names implemented by the device contract.
const (
	TxUpdateAsset                = "UpdateAsset"
	TxCreateAsset                = "CreateAsset"
	TxUpdateTemperatureThreshold = "UpdateTemperatureThreshold"
)

// arity is the number of positional arguments per transaction.
//
//nolint:gochecknoglobals // Read-only lookup table.
var arity = map[string]int{
	TxUpdateAsset:                4,
	TxCreateAsset:                5,
	TxUpdateTemperatureThreshold: 2,
}

// ErrUnknownTransaction is returned for transaction names the contract does not implement.
var ErrUnknownTransaction = errors.New("unknown transaction")

// Transaction is a named contract invocation with ordered string arguments.
// It is immutable: Args always returns a copy.
type Transaction struct {
	name string
	args []string
}

// NewUpdateAsset records a temperature reading for a device.
func NewUpdateAsset(deviceID, deviceName, room, temperature string) Transaction {
	return Transaction{
		name: TxUpdateAsset,
		args: []string{deviceID, deviceName, room, temperature},
	}
}

// NewCreateAsset registers a device asset with its alarm threshold.
func NewCreateAsset(id, apiKey, deviceName, temperatureThreshold, temperature string) Transaction {
	return Transaction{
		name: TxCreateAsset,
		args: []string{id, apiKey, deviceName, temperatureThreshold, temperature},
	}
}

// NewUpdateTemperatureThreshold changes the alarm threshold of an asset.
func NewUpdateTemperatureThreshold(id, temperatureThreshold string) Transaction {
	return Transaction{
		name: TxUpdateTemperatureThreshold,
		args: []string{id, temperatureThreshold},
	}
}

// Name returns the contract transaction name.
func (t Transaction) Name() string {
	return t.name
}

// Args returns a copy of the positional arguments.
func (t Transaction) Args() []string {
	return slices.Clone(t.args)
}

// Validate checks that the transaction is known and carries the expected
// number of arguments.
func (t Transaction) Validate() error {
	want, ok := arity[t.name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTransaction, t.name)
	}

	if len(t.args) != want {
		return fmt.Errorf("%s expects %d arguments, got %d", t.name, want, len(t.args))
	}

	return nil
}

// String renders the transaction for logs.
func (t Transaction) String() string {
	return fmt.Sprintf("%s%q", t.name, t.args)
}
