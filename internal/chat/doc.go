// Package chat implements the room-state and broadcast engine of the relay.
//
// A Registry maps room identifiers to Rooms. Each Room owns its users, an
// append-only message history, and the live connections registered in it,
// all guarded by a single per-room lock so that rooms never contend with each
// other. Connections are reached through the Conn interface; the transport
// layer supplies the implementation.
package chat
