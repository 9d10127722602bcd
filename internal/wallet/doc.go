// Package wallet stores enrolled X.509 identities on disk.
//
// Entries use the JSON layout of the Fabric Node SDK file wallet
// (<label>.id), so wallets bootstrapped by the existing enrollment scripts
// can be used unchanged. Enrollment itself is done elsewhere; the bridge
// only reads identities and lets operators import already-issued ones.
package wallet
