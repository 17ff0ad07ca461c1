// Package session persists conversations as JSONL files, one message per
// line.
//
// Invariants:
// - Session names are validated and path-safe.
// - Writes for the same session are serialized; Save replaces the file
//   atomically.
// - Malformed lines are skipped on load.
//
// Usage:
//
//	mgr, _ := session.New(session.Config{Dir: "/home/me/.local/share/agerus/sessions"})
//	name := session.DefaultName(time.Now())
//	_ = mgr.Save(ctx, name, conversation)
//	conversation, _ = mgr.Load(ctx, name)
package session
