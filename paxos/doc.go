// Package paxos is sans-IO: every exported Step/handle method is a pure
// function of (receiver state, Input) -> (receiver state, Outbox). None
// of Acceptor, Leader or Replica opens a socket, reads a clock, starts a
// goroutine, or blocks. All of that belongs to a driver built on top of
// this package (internal/mailbox, internal/timer, internal/storage,
// cmd/demo): the driver feeds Input in, persists any Mutation the
// Acceptor reports before acting on it, and delivers the Outbox.
//
// The roles are small, embeddable components whose exported behavior is
// driven entirely by messages passed to them, with disk writes and
// network sends kept as explicit, separately-owned steps rather than
// hidden inside the state transition.
package paxos
