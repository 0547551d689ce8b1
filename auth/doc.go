// Package auth authenticates the callers of the HTTP surface that are not
// agents: resource servers calling introspection and the host application
// asserting which owner is acting.
package auth
