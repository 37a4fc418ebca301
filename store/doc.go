// Package store persists contract bytecode, analysis reports and compiled
// artifacts on the local filesystem.
//
// Layout under the base directory:
//
//	state/wasm/<hex>                           raw bytecode
//	state/reports/<hex>.json                   analysis report
//	cache/modules/<engine-version>/<hex>.module compiled artifact envelope
//	cache/native/                              engine managed native code
//
// Raw bytecode is the source of truth. Everything under cache/ can be deleted
// at any time and is rebuilt on demand. All writes go through a temporary
// file in the destination directory followed by a rename, so readers never
// observe a partially written file under its final name.
package store
