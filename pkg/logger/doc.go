// Package logger builds the application's slog logger: JSON output in
// production, human-readable text elsewhere.
package logger
