// Package transport is the outbound HTTP client used for upstream payment
// network calls.
package transport
