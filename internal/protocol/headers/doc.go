// Package headers owns the 2-byte purpose header at the start of every
// stream.
//
// Ownership boundary:
// - classifying newly accepted streams by purpose before any payload is read
// - handing classified streams to the layer that claims their purpose
// - writing the header ahead of any payload on outgoing streams
package headers
