// Package server implements the HTTP and WebSocket surface of the relay.
//
// Each upgraded connection becomes a Client whose read and write pumps run
// the join → message loop → leave protocol against a chat.Room. The Hub
// tracks live clients for shutdown; routing, origin checks, and HTTP server
// helpers live alongside.
package server
