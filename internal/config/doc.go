// Package config defines the bridge settings and helpers to load, validate
// and save them in YAML format.
//
// Validate fills in defaults that match the original Fabric sample network
// (channel "mychannel", chaincode "basic", identity "appUser") so a minimal
// file only needs the connection profile path.
package config
