// Package logx configures pewsched's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional notifier sink (min-level + rate limiting), used to mirror
//     warnings to the operator chat
package logx
