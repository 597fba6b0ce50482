// Package delivery implements the message delivery reliability engine: the
// subsystem that moves outbound messages to the broker with per-class
// guarantees over a link that can fail at any time.
//
// The engine composes:
//   - PolicyTable: per-class retry ceilings, backoff shape, terminal action
//   - AdmissionController: routes new work around the live connection
//   - Pipeline: drives exactly one message at a time through the transport
//   - RetryScheduler: time-ordered retry timers fired by the engine tick
//   - Replayer: drains the network-failure dead-letter queue in FIFO order
//
// Producers interact only with Engine.Submit, which is fire-and-forget:
// transient failures are recovered internally, and later failures surface
// exclusively through logs and status counters. No message is ever silently
// lost without a log entry.
package delivery
