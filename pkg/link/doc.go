// Package link implements the primary inter-processor link of the trip unit.
//
// A Port owns one duplex Channel and drives it from a single poll loop:
// received bytes are assembled into messages, the dispatcher turns each
// message into at most one pending obligation, and the transmit scheduler
// services obligations one at a time in strict priority order. Nothing in a
// Port blocks; asynchronous provider completions are posted back to the
// loop goroutine and applied on the next Step.
//
// Client is the requesting side of the same protocol, as used by the display
// processor and by tools talking to a unit.
package link
