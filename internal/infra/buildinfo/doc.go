// Package buildinfo reports the version of the running shardkv binary.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/shardkv/internal/infra/buildinfo.Version=v0.3.0"
//
// Development builds fall back to the VCS data the toolchain embeds.
package buildinfo
