package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/ledger-alarm-bridge/internal/domain/device"
)

var errMissingFields = errors.New("missing required fields")

// transactionRequest is a decoded body that maps onto one transaction.
type transactionRequest interface {
	transaction() (device.Transaction, error)
}

// telemetryRequest is the rule-chain message posted to /thingsboard.
type telemetryRequest struct {
	DeviceID Scalar `json:"deviceId"`
	Metadata struct {
		DeviceName Scalar `json:"deviceName"`
		Room       Scalar `json:"room"`
	} `json:"metadata"`
	Temperature Scalar `json:"temperature"`
}

func (r *telemetryRequest) transaction() (device.Transaction, error) {
	if err := required(
		field{"deviceId", r.DeviceID},
		field{"metadata.deviceName", r.Metadata.DeviceName},
		field{"metadata.room", r.Metadata.Room},
		field{"temperature", r.Temperature},
	); err != nil {
		return device.Transaction{}, err
	}

	return device.NewUpdateAsset(
		r.DeviceID.String(),
		r.Metadata.DeviceName.String(),
		r.Metadata.Room.String(),
		r.Temperature.String(),
	), nil
}

// registerRequest is the body of /register-asset.
type registerRequest struct {
	ID                   Scalar `json:"id"`
	APIKey               Scalar `json:"apiKey"`
	DeviceName           Scalar `json:"deviceName"`
	TemperatureThreshold Scalar `json:"temperatureThreshold"`
	Temperature          Scalar `json:"temperature"`
}

func (r *registerRequest) transaction() (device.Transaction, error) {
	if err := required(
		field{"id", r.ID},
		field{"apiKey", r.APIKey},
		field{"deviceName", r.DeviceName},
		field{"temperatureThreshold", r.TemperatureThreshold},
		field{"temperature", r.Temperature},
	); err != nil {
		return device.Transaction{}, err
	}

	return device.NewCreateAsset(
		r.ID.String(),
		r.APIKey.String(),
		r.DeviceName.String(),
		r.TemperatureThreshold.String(),
		r.Temperature.String(),
	), nil
}

// thresholdRequest is the body of /change-temperature.
type thresholdRequest struct {
	ID                   Scalar `json:"id"`
	TemperatureThreshold Scalar `json:"temperatureThreshold"`
}

func (r *thresholdRequest) transaction() (device.Transaction, error) {
	if err := required(
		field{"id", r.ID},
		field{"temperatureThreshold", r.TemperatureThreshold},
	); err != nil {
		return device.Transaction{}, err
	}

	return device.NewUpdateTemperatureThreshold(r.ID.String(), r.TemperatureThreshold.String()), nil
}

type field struct {
	name  string
	value Scalar
}

func required(fields ...field) error {
	var missing []string

	for _, f := range fields {
		if !f.value.Present() {
			missing = append(missing, f.name)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", errMissingFields, strings.Join(missing, ", "))
}
