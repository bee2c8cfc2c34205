// Package stream implements persistent framed connections and the generic
// jack that multiplexes frames over them.
//
// Every payload on the byte stream is prefixed with its length in lowercase
// hex and a '.':
//
//	2.hi5.hello0.
//
// A Connection reassembles payloads from arbitrary read boundaries and pushes
// them to its bound Sink, or queues them for ReceivePoll. A Jack keeps one
// Connection per remote peer label, dials on first contact, accepts inbound
// connections while Run is active, and hands every inbound payload to a
// router.Deliverer.
//
// Transport specifics are injected through Transport, Addressing and
// Listener; see internal/jacks for the TCP and QUIC variants.
package stream
