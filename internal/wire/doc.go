// Package wire defines the newline-delimited JSON-RPC 2.0 frames exchanged
// between the supervisor and the memory worker over the worker's stdio.
//
// Both ends of the protocol import this package so the frame shapes cannot
// drift: the supervisor's request router encodes Request values and decodes
// Response values, while the worker runtime does the reverse. Every frame is
// exactly one JSON object terminated by a newline; anything that fails to
// decode is the receiver's problem to log and drop, never a protocol fault
// that tears down the channel.
package wire
