// Package device contains the domain types exchanged with the ledger contract.
//
// Transaction constructors fix the positional argument order the contract
// expects. EventPayload is the structured form of a contract event payload,
// and AlarmRecord is what the bridge forwards to the telemetry sink.
package device
