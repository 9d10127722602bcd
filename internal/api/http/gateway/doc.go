// Package gateway serves the inbound HTTP routes that turn device and
// dashboard requests into ledger transactions.
//
// Every route submits exactly one transaction and answers once the ledger has
// reported the commit outcome.
package gateway
