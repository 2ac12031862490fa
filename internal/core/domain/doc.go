// Package domain defines the core domain models for shardkv.
//
// Domain models are pure values without IO dependencies. This package
// contains:
//
//   - Payload: immutable, reference-shared value bytes
//   - StoredValue: the Persistent / Expiring value variants
//   - Errors: coded engine errors matched with errors.Is
package domain
