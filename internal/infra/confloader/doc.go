// Package confloader layers shardkv configuration from a YAML file,
// SHARDKV_ environment variables and explicit overrides onto a struct
// that already carries its defaults.
//
// Later sources win:
//
//  1. defaults set on the target before Load
//  2. the YAML file
//  3. environment variables
//  4. maps passed to LoadMap (command-line flags)
//
// Environment variables name a section and a key separated by the first
// underscore after the prefix: SHARDKV_STORAGE_WAL_MODE sets
// storage.wal_mode.
//
// Watcher reports changes to the config file so a running server can pick
// up the settings that are safe to change live.
package confloader
