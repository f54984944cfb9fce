/*
Package config resolves corral's runtime configuration.

Sources, lowest precedence first: built-in defaults, an optional
corral.yaml in the coordination directory, recognized environment
variables, CLI flags (applied by cmd/corral after Load). Numeric
environment variables keep the shell-friendly second/byte units of
their names (LOCK_WAIT_SEC, SPAN_LOG_MAX_BYTES).
*/
package config
