// Package topic holds the content side of the learning core: topics, their
// immutable section outlines, and lazily generated section content.
//
// A topic is planned once with an ordered outline. Content for a section is
// produced on first access by a Generator and stored through a ContentStore
// with put-if-absent semantics, so once content exists for an index it is
// never regenerated unless explicitly invalidated.
//
// When generation fails the caller builds a deterministic fallback from the
// outline alone:
//
//	outline, _ := t.Outline(i)
//	content := BuildFallback(t.ID, outline)
//
// Fallback content is flagged and must never be written to the store.
package topic
