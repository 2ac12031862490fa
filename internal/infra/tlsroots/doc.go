// Package tlsroots builds TLS configurations for the admin endpoint and
// the clients that talk to it.
//
// A Keypair holds the server certificate and can be reloaded in place when
// the files on disk are rotated.
package tlsroots
