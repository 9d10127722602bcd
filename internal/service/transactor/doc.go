// Package transactor submits device transactions with a request scoped
// ledger session: every call opens its own session, resolves the configured
// channel and contract, submits once and closes the session on every path.
//
// Failures are returned to the caller untouched; nothing is retried.
package transactor
