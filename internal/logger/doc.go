// Package logger wraps zap for the bridge:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV) so request IDs
//     and component names travel with the call,
//   - level parsing and runtime level changes.
//
// Components accept a context and log through it, never through a logger
// field of their own.
package logger
