// Package logx configures pushd's structured logging.
//
// It wraps zerolog in a small value type (logx.Logger) that keeps:
//   - Console output readable (short timestamp + short caller), or JSON when asked
//   - File output JSON-structured
//   - Level and sinks swappable at runtime through Service.Apply
package logx
