// Package generation runs one generation at a time against the configured
// backend and keeps the filtered output buffer. It is structured into small
// files by concern:
//
//   - controller.go: the per-generation state machine, buffer and abort hook.
//   - service.go: Send/Regenerate/Continue entry points wiring the
//     conversation, context assembler and backend together.
//   - errors.go: error types and helpers (IsBusy).
//   - events.go: lifecycle events and the EventPublisher interface.
//   - eventpub_memory.go: in-memory publisher for tests and the notice feed.
//   - metrics.go: Prometheus counters and histograms.
//
// Every generation gets a fresh id. Buffer appends and terminal transitions
// carry that id and are dropped when it is no longer current, so a superseded
// generation can never touch a newer buffer or fire a newer abort hook.
package generation
