// Package redline is a minimal client for the redis line protocol (RESP),
// built around an incremental push parser and a single-connection command
// pipeline.
//
// A Conn operates in one of two modes, chosen at construction. A blocking
// Conn is driven synchronously: Do formats a command, flushes it and suspends
// until the reply has been decoded. A non-blocking Conn never suspends;
// commands are appended to an output buffer along with a callback, and the
// caller (typically an event loop reacting to socket readiness) pumps
// WriteBuffered, ReadBuffered and ProcessCallbacks. Replies are delivered to
// callbacks in exactly the order their commands were issued, no matter how
// the reply bytes were chunked on the way in.
//
// The package knows nothing about individual commands. It formats argument
// lists into the generic command encoding and decodes the generic reply
// grammar; the meaning of a GET is the server's business.
//
// There is no reconnect, retry, TLS or authentication support here. Recovery
// policy belongs to the caller; see Pool and BreakerPool for the two
// composition points this package does provide.
package redline
