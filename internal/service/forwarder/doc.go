// Package forwarder delivers alarm records to the external telemetry sink.
//
// Forward only enqueues; a single worker started with Run posts each record
// once. Delivery failures and queue overflows are logged and counted, never
// returned, and nothing is retried.
package forwarder
