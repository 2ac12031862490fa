// Package config defines the shardkv server configuration, its defaults
// and its validation.
//
// Values are layered by internal/infra/confloader; Verify rejects
// anything the storage engine would refuse so that a bad file fails before
// any data directory is touched.
package config
