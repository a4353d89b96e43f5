// Package logging configures structured slog output for mapview.
//
// Logs are JSON lines written to a size-rotated file under ~/.mapview/logs/.
// Interactive commands may tee them to stderr; the MCP server never does,
// since stdout and stderr belong to the protocol stream.
package logging
