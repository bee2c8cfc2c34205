// Package frame implements the routing envelope exchanged between routers.
//
// Wire form:
//
//	<type byte><JSON address>\x00<content>
//
// The type byte is 'r' for a frame that still needs routing and 's' for a
// frame that has reached its recipient. The address is the canonical JSON
// array produced by address.Address.Key, so Serialize(Parse(b)) is stable
// for any b that parses. Content is opaque and may itself contain NUL bytes.
//
// Frames are immutable; accessors return copies.
package frame
