// Package cardnetwork mints single-use network tokens from an upstream card
// network API. The network rotates its refresh credential on every refresh,
// so each new pair is persisted before it is used.
package cardnetwork
