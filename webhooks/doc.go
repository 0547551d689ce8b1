// Package webhooks delivers signed lifecycle events to merchant endpoints.
//
// Every delivery is a single attempt. The outcome of each attempt is written
// to the delivery log whether the receiver accepted it or not.
package webhooks
