// Package logx configures bookbot's structured logging.
//
// Call sites log through a small wrapper (logx.Logger) on top of zerolog.
// Every zerolog line is decoded once into a Record and fanned out by the
// Router to independent sinks:
//   - Console (pretty zerolog output or a text layout)
//   - Files, optionally rotated on a time boundary with bounded backups
//   - Alert webhook (ERROR and above, best-effort, never fails the caller)
//
// Each sink has its own threshold and an optional Filter. A record reaches a
// sink iff its level is at or above the threshold and the filter accepts it.
package logx
