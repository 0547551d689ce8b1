// Package core contains the agent payment delegation domain: agents and their
// spending limits, bearer token issuance and revocation, the three grant
// flows, the step-up approval workflow and lifecycle event emission.
// Persistence, transport and signing adapters depend on this package; core
// must not depend on them.
package core
