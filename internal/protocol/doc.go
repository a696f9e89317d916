// Package protocol owns the wire contract shared by every stream layer.
//
// Ownership boundary:
// - stream purpose tags (first 2 bytes of every stream)
// - wire size limits
//
// Layers:
// - frame: u16 accumulator, frame codec and incremental decoder
// - headers: purpose classification of received streams, headered sends
// - messages: type registry, frame decoding per stream, typed inboxes, sends
// - session: per-connection state and the per-tick driver
package protocol
