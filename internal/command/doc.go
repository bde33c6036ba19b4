// Package command implements the request side of the opcode protocol shared
// with the autoguider.
//
// A request is written into the first 1024 bytes of the segment: payload at
// offset 3, opcode at offsets 1 and 2, and finally the busy flag at offset 0.
// The autoguider executes the command, leaves any response at offset 3 and
// clears the busy flag. The client polls the flag until it clears or the
// timeout passes; nothing is rolled back on timeout.
//
// Calls made from this process are serialized. Repeated timeouts open a
// circuit breaker, after which calls fail fast with
// protocol.ErrProcessUnavailable until a trial call succeeds.
package command
