// Package messages frames typed application messages onto streams
// classified as protocol.PurposeMessages.
//
// Ownership boundary:
// - the message type registry (type <-> u16 id)
// - per-stream frame decoding into raw per-type queues
// - routing raw payloads into typed inboxes
// - buffered, congestion-aware message sends
//
// Deployment invariant: both peers must register the same types, in the
// same order, with the same codec. The type id is the only type
// information on the wire, so a mismatch decodes messages as the wrong
// type instead of failing.
package messages
