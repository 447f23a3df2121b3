// Package logger builds the structured slog logger shared by every balancer
// component, JSON in production and text elsewhere.
package logger
