// Package bridge wires the ledger session manager, the transaction gateway,
// the contract event listener and the alarm forwarder into one process.
package bridge
