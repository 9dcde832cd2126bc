// Package audit relays security events from the engine to a Sink.
//
// The engine decides which events exist and fills them in; this package
// only queues and delivers them. A [Dispatcher] owns one goroutine per
// engine, so a slow or panicking sink never blocks a login or refresh. Its
// [Stats] feed the authcore_audit_* metric series.
package audit
