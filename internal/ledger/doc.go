// Package ledger manages sessions with a Hyperledger Fabric network through
// the Fabric Gateway.
//
// A Connector opens Sessions for one identity and gateway endpoint. From a
// Session the caller resolves a Channel and a Contract, submits transactions
// that return only once committed, and subscribes to contract events decoded
// from committed blocks together with their validation outcome.
//
// Sessions own a gRPC connection and must be closed; Close is idempotent and
// invalidates every handle derived from the session.
package ledger
