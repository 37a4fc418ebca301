// Package wasmbin reads and writes the parts of the WebAssembly binary format
// the module analyzer needs: the header, section framing, and the type,
// import, function, table, memory, global, export, start, code, data and
// custom sections.
//
// Function bodies, element and data payloads are framed but not decoded;
// instruction level validation is left to the compiling engine.
package wasmbin
