// Package server exposes the agentpay service over HTTP with gorilla/mux.
package server
