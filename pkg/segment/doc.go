// Package segment implements the memory-mapped segment file backing the
// broker's commit log.
//
// A segment is a fixed-capacity file mapped fully into memory and named after
// the absolute log offset of its first byte. Appends go through a caller
// supplied AppendCallback that encodes one record straight into the mapping,
// after which a single atomic add advances the write position. Commit forces
// written pages to storage and advances the committed position.
//
// Readers obtain a BufferView, which holds a reference on the segment. The
// mapping is unmapped only after the segment has been shut down and every
// view has been released (or the shutdown grace period has expired), so:
//
//	view, err := seg.SelectBufferFrom(pos)
//	if err != nil { ... }
//	defer view.Release()
//	decode(view.Bytes())
//
// Exactly one goroutine may append to a given segment at a time; the owning
// log serializes writers. Commit, SelectBuffer*, Hold and Release are safe for
// concurrent use.
package segment
