// Package filer defines the capability interface of a metadata store and the
// filesystem walk that drives it.
//
// The walk (Update) produces two kinds of observations:
//   - Directory: one per visited directory, parents before children
//   - File: one per non-directory entry of a visited directory
//
// Every observation carries two spellings of its location. OSPath is used
// for I/O and is never modified. Path, Dir and Name are the canonical keys
// that a Filer stores; with case folding enabled they are folded to a single
// lowercase NFC form so that paths differing only in case collapse.
//
// # Writers
//
// A Filer is driven by exactly one goroutine. When Options.Workers is
// greater than one and the Filer also implements Preparer, hashing runs on a
// worker pool while every write is still issued from a single ordered
// callback stream.
package filer
