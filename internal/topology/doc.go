// Package topology loads Fabric common connection profiles and resolves the
// gateway peer endpoint the bridge dials.
//
// Profiles may be YAML or JSON. Discovery settings decide whether the peer
// comes from the organization's list or must be named statically, and
// whether its host is rewritten to localhost.
package topology
