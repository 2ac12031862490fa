// Package logger provides structured logging for shardkv.
//
// It configures log/slog handlers with a process-wide dynamic level and a
// redaction hook, so stored values never reach the logs:
//
//   - logger.go: handler construction and level control
//   - context.go: context propagation of loggers and request IDs
//   - redact.go: redaction of values, payloads and secrets
package logger
