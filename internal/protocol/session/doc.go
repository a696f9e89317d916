// Package session drives the message protocol over a set of live
// connections.
//
// Ownership boundary:
// - per-connection protocol state (classifier, decoders, inboxes, send streams)
// - the per-tick pipeline: classify, claim, decode, route, flush
// - connection fault isolation
// - transport security and retry/backoff settings shared by servers and clients
//
// An Endpoint is driven by a single goroutine calling Tick. Add and Remove
// may be called from other goroutines.
package session
