/*
Package log provides structured logging for corral built on zerolog.

A single global logger is initialized once by the CLI (or by a test)
via Init, then borrowed through child-logger helpers that attach the
standard correlation fields:

	logger := log.WithComponent("engine")
	logger.Info().Str("work_id", id).Msg("work claimed")

Logs go to stderr by default; stdout is reserved for command output so
that --json mode stays machine-parseable. Console output is used for
humans, JSON output for collectors.

Logging is diagnostics only. The span log (pkg/trace) is the
authoritative record of operations; nothing reads these log lines back.
*/
package log
