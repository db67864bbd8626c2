// Package reducerruntime defines the binary contract between a host and a
// sandboxed reducer module: the exported entry points a compiled reducer must
// provide, and the Memory/Allocator interfaces through which the host moves
// bytes in and out of the sandbox's linear memory.
//
// A reducer is deterministic mutation logic compiled to WebAssembly. It runs
// single-threaded inside the sandbox and cannot perform I/O; when it needs to
// query the database it suspends, hands a serialized request to the host, and
// is resumed with the serialized response. The packages in this module split
// that protocol into layers:
//
//   - protocol: wire message shapes and their CBOR encoding
//   - marshal: copying serialized buffers across the memory boundary
//   - guest: the in-sandbox shim exposing start/resume around reducer logic
//   - trampoline: the Awaiting/Finished state machine driving re-entry
//   - host: the wazero-backed driver turning the whole exchange into one
//     context-aware call
//   - sqlite: a reference query provider over a SQLite database
package reducerruntime
