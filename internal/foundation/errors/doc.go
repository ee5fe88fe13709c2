// Package errors provides foundational, type-safe error primitives used across x360make.
//
// Key features:
//   - ErrorCategory: broad classification (config, network, archive, toolchain, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: retry behaviour (never, backoff, rate_limit, ...)
//   - ClassifiedError: structured error with category, severity, and context
//   - ErrorBuilder: fluent API for creating classified errors
//   - CLIErrorAdapter: exit codes and user-facing formatting
//
// Example usage:
//
//	err := errors.NetworkError("download failed").
//		WithContext("url", url).
//		WithCause(originalErr).
//		Build()
package errors
