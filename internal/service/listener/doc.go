// Package listener subscribes to the contract events over a long-lived
// ledger session of its own and forwards alarm-worthy ones.
//
// A Listener registers once. Events are handled one at a time in delivery
// order: invalid transactions are dropped, malformed payloads are logged and
// dropped, payloads carrying the custom event discriminator are forwarded.
// A failed registration or a broken stream is logged and never retried.
package listener
