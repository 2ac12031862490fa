// Package output renders shardkv-cli results as aligned tables, JSON or
// YAML.
//
// Commands build a Table for the human view and hand the raw value to the
// JSON and YAML formatters so scripts see every field.
package output
