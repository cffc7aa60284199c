// Package logger wraps zap to provide:
//   - a global sugared logger with a console encoder writing to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and runtime level switching,
//   - leveled helpers (Infof, InfoKV, ErrorKV, ...).
//
// Every stage of the stager receives a context and pulls its logger from it,
// so phase names and artifact fields travel with the call chain.
package logger
