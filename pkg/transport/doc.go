// Package transport defines the transport interfaces used by the
// connection layer and a session manager that shares outbound sessions
// between connections to the same endpoint.
//
// Key concepts:
// - Transport: dials/listens for Sessions of a specific Kind (mem/tcp/udp/quic/...)
// - Session: a bidirectional link to a remote process
// - Stream: a Send/Recv channel of encoded envelope frames
// - Manager: reference-counts outbound sessions per endpoint and ranks
//   kinds when an endpoint is reachable over several transports
package transport
