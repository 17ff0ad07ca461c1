// Package streamfilter splits incremental model output into reasoning and answer text.
//
// Invariants:
// - Every pushed byte is emitted exactly once, either by Push or by Flush.
// - A delimiter, or a fragment of one, is never emitted as content.
// - Emitted text never splits a multi-byte UTF-8 code point.
// - The concatenated output per kind does not depend on how the input was chunked.
//
// Usage:
//
//	f := streamfilter.New("<think>", "</think>")
//	for _, seg := range f.Push(chunk) {
//		if seg.Reasoning { ... } else { ... }
//	}
//	rest := f.Flush()
package streamfilter
