// Package protocol defines the message shapes exchanged across the sandbox
// boundary and their binary encoding.
//
// Host and guest are compiled and versioned independently, so nothing on the
// wire may depend on either side's native memory layout. Every message is a
// self-describing CBOR map with small integer keys; decoders ignore keys they
// do not recognize, which lets either side add fields without breaking the
// other. Evolution is additive only: existing keys never change meaning.
//
// The recognized message kinds are Query, QueryResult, Error and
// MutationEffects, carried inside Request/Response envelopes and the
// SuspendState frame returned by every guest entry.
package protocol
