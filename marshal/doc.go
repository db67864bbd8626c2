// Package marshal moves serialized byte buffers across the host/guest memory
// boundary. All transfer is explicit copy through the guest's own exported
// allocator: the host never dereferences a guest address and the guest never
// receives a host address. A Lease tracks every buffer the host allocates
// during one guest call so that all of them are freed on every exit path,
// including guest traps.
package marshal
